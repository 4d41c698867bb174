package reports

import (
	"bytes"
	"context"
	"encoding/json"

	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

// Dashboard returns the course counters. The legacy endpoint answers with
// either a one-element array or a bare object.
func (s *Service) Dashboard(ctx context.Context, sess models.Session) (models.Dashboard, error) {
	if err := requireFields(sess, courseScope, nil); err != nil {
		return models.Dashboard{}, err
	}
	res, err := s.fetch(ctx, upstream.DashboardSummary, scopeParams(sess, courseScope...))
	if err != nil {
		return models.Dashboard{}, err
	}

	var rec models.DashboardRecord
	body := bytes.TrimSpace(res.JSON())
	if items, ok := res.Elements(); ok {
		if len(items) > 0 {
			_ = json.Unmarshal(items[0], &rec)
		}
	} else if len(body) > 0 && body[0] == '{' {
		_ = json.Unmarshal(body, &rec)
	}
	d := models.Dashboard{
		TotalTests:     rec.TotalTests.Or(0),
		TotalStudents:  rec.TotalStudents.Or(0),
		TotalAttendees: rec.TotalAttendees.Or(0),
		AvgScore:       rec.AvgScore.Or(0),
	}
	d.SkippedStudents = d.TotalStudents - d.TotalAttendees
	return d, nil
}
