package reports

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

var testColumns = map[string]column[models.Test]{
	"testno": {text: func(t models.Test) string { return t.TestNo }},
	"total":  {num: func(t models.Test) float64 { return float64(t.Total) }},
	"missed": {num: func(t models.Test) float64 { return float64(t.Missed) }},
}

var courseScope = []string{models.FieldCourse}

func testParams(sess models.Session, testno string) url.Values {
	params := scopeParams(sess, models.FieldCourse)
	params.Set("testno", testno)
	return params
}

func toTest(r models.TestRow) models.Test {
	return models.Test{
		TestNo: string(r.Testno),
		ExamID: string(r.ExamID),
		Total:  int(r.Total.Or(0)),
	}
}

// TestList lists the tests of the course with the number of students who
// missed each one. A missed count that cannot be fetched is zero.
func (s *Service) TestList(ctx context.Context, sess models.Session, opts ListOptions) (View[models.Test], error) {
	if err := requireFields(sess, courseScope, nil); err != nil {
		return View[models.Test]{}, err
	}
	res, err := s.fetch(ctx, upstream.Tests, scopeParams(sess, courseScope...))
	if err != nil {
		return View[models.Test]{}, err
	}
	rows, _ := upstream.DecodeRows[models.TestRow](res)

	missed, err := MapSettled(ctx, s.limit, rows, func(ctx context.Context, t models.TestRow) (int, error) {
		r, err := s.up.Fetch(ctx, upstream.TestMissing, testParams(sess, string(t.Testno)))
		if err != nil {
			s.dependentFailed(upstream.TestMissing, string(t.Testno), err)
			return 0, err
		}
		items, ok := r.Elements()
		if !ok {
			return 0, nil
		}
		return len(items), nil
	})
	if err != nil {
		return View[models.Test]{}, err
	}

	tests := make([]models.Test, len(rows))
	for i, r := range rows {
		tests[i] = toTest(r)
		tests[i].Missed = missed[i].Or(0)
	}
	q := opts.filter(FilterQuery)
	return buildView(tests, func(t models.Test) bool { return matchAll(t.TestNo, q) }, testColumns, opts)
}

// TestReport is the performance page of one test.
type TestReport struct {
	Test         models.Test          `json:"test"`
	Summary      models.TestSummary   `json:"summary"`
	Participants []models.Participant `json:"participants"`
}

// TestReport loads a test and its averages. The test must be listed for the
// course; averages that cannot be fetched leave the report with no participants.
func (s *Service) TestReport(ctx context.Context, sess models.Session, testno string) (*TestReport, error) {
	if err := requireFields(sess, courseScope, map[string]string{"testno": testno}); err != nil {
		return nil, err
	}

	var (
		list upstream.Result
		avg  upstream.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = s.fetch(gctx, upstream.Tests, scopeParams(sess, courseScope...))
		return err
	})
	g.Go(func() error {
		var err error
		if avg, err = s.up.Fetch(gctx, upstream.TestAverage, testParams(sess, testno)); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				// cancelled because the test list failed
				return nil
			}
			s.dependentFailed(upstream.TestAverage, testno, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, _ := upstream.DecodeRows[models.TestRow](list)
	var found *models.TestRow
	for i := range rows {
		if string(rows[i].Testno) == testno {
			found = &rows[i]
			break
		}
	}
	if found == nil {
		return nil, ErrTestNotFound
	}

	items, _ := avg.Elements()
	summary, participants := SplitAverages(items)
	return &TestReport{Test: toTest(*found), Summary: summary, Participants: participants}, nil
}

// SplitAverages separates the optional summary row (numeric NoofAttendes and
// Total_Avg) from the participant rows of the test average endpoint, then
// derives the attempt statistics.
func SplitAverages(items []json.RawMessage) (models.TestSummary, []models.Participant) {
	var sum models.TestSummary
	rest := items
	if len(items) > 0 {
		var first map[string]json.RawMessage
		if json.Unmarshal(items[0], &first) == nil &&
			models.IsJSONNumber(first["NoofAttendes"]) && models.IsJSONNumber(first["Total_Avg"]) {
			var attendees, avg float64
			_ = json.Unmarshal(first["NoofAttendes"], &attendees)
			_ = json.Unmarshal(first["Total_Avg"], &avg)
			sum.Participants = int(attendees)
			sum.AvgScore = avg
			sum.FromUpstream = true
			rest = items[1:]
		}
	}

	participants := make([]models.Participant, 0, len(rest))
	for _, raw := range rest {
		var r models.ParticipantRow
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		name := string(r.Studname)
		if name == "" {
			name = string(r.StudentName)
		}
		if name == "" {
			name = "Unknown"
		}
		participants = append(participants, models.Participant{
			StudentID:         string(r.Studentid),
			StudentName:       name,
			TotalScore:        models.Coalesce(r.TotalScore, r.Section1sco),
			TotalNoOfCorrects: models.Coalesce(r.TotalNoofCorrects, r.Section1cor),
			TotalNoOfWrongs:   models.Coalesce(r.TotalNoofWrongs, r.Section1wro),
			TotalNoOfSkipped:  r.TotalNoOfSkipped.Or(0),
		})
	}

	if !sum.FromUpstream {
		sum.Participants = len(participants)
		var total float64
		for _, p := range participants {
			total += p.TotalScore
		}
		sum.AvgScore = total / float64(max(len(participants), 1))
	}
	for _, p := range participants {
		sum.TotalAttempted += p.TotalNoOfCorrects + p.TotalNoOfWrongs
		sum.TotalSkipped += p.TotalNoOfSkipped
	}
	div := float64(max(sum.Participants, 1))
	sum.AvgAttempted = sum.TotalAttempted / div
	sum.AvgSkipped = sum.TotalSkipped / div
	return sum, participants
}

// FormatTestDate renders a legacy date as dd-mm-yyyy, or "" when blank.
func FormatTestDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	parts := strings.Split(strings.SplitN(s, "T", 2)[0], "-")
	if len(parts) != 3 {
		return s
	}
	return parts[2] + "-" + parts[1] + "-" + parts[0]
}

// AttemptedStudents lists the students who sat a test. Rows without a name or
// id are dropped.
func (s *Service) AttemptedStudents(ctx context.Context, sess models.Session, testno string, opts ListOptions) (View[models.Attempt], error) {
	if err := requireFields(sess, courseScope, map[string]string{"testno": testno}); err != nil {
		return View[models.Attempt]{}, err
	}
	res, err := s.fetch(ctx, upstream.TestDetails, testParams(sess, testno))
	if err != nil {
		return View[models.Attempt]{}, err
	}
	rows, _ := upstream.DecodeRows[models.AttemptRow](res)
	attempts := make([]models.Attempt, 0, len(rows))
	for _, r := range rows {
		if r.Studname == "" || r.Studentid == "" {
			continue
		}
		attempts = append(attempts, models.Attempt{
			StudentID:    string(r.Studentid),
			StudentName:  string(r.Studname),
			Email:        string(r.Emailid),
			TotalCorrect: r.Section1cor.Or(0),
			TotalWrong:   r.Section1wro.Or(0),
			TotalScore:   r.Section1sco.Or(0),
			TestDate:     FormatTestDate(string(r.Testdate)),
		})
	}
	q := opts.filter(FilterQuery)
	return buildView(attempts, func(a models.Attempt) bool { return matchAll(a.StudentName, q) }, nil, opts)
}

// MissedStudents lists the students who did not sit a test.
func (s *Service) MissedStudents(ctx context.Context, sess models.Session, testno string, opts ListOptions) (View[models.MissedStudent], error) {
	if err := requireFields(sess, courseScope, map[string]string{"testno": testno}); err != nil {
		return View[models.MissedStudent]{}, err
	}
	res, err := s.fetch(ctx, upstream.TestMissing, testParams(sess, testno))
	if err != nil {
		return View[models.MissedStudent]{}, err
	}
	rows, _ := upstream.DecodeRows[models.MissedRow](res)
	missed := make([]models.MissedStudent, len(rows))
	for i, r := range rows {
		missed[i] = models.MissedStudent{
			Idcardno: string(r.Idcardno),
			Studname: string(r.Studname),
			Emailid:  string(r.Emailid),
		}
	}
	q := opts.filter(FilterQuery)
	return buildView(missed, func(m models.MissedStudent) bool { return matchAll(m.Studname, q) }, nil, opts)
}

// TestRoster lists every student of the course for a test, attempted or not.
func (s *Service) TestRoster(ctx context.Context, sess models.Session, testno string) (View[models.RosterEntry], error) {
	if err := requireFields(sess, courseScope, map[string]string{"testno": testno}); err != nil {
		return View[models.RosterEntry]{}, err
	}
	res, err := s.fetch(ctx, upstream.TestRoster, testParams(sess, testno))
	if err != nil {
		return View[models.RosterEntry]{}, err
	}
	rows, ok := upstream.DecodeRows[models.RosterRow](res)
	if !ok {
		s.log.Debug("roster is not an array", zap.String("testno", testno))
	}
	entries := make([]models.RosterEntry, len(rows))
	for i, r := range rows {
		e := models.RosterEntry{
			Idcardno: string(r.Idcardno),
			Studname: string(r.Studname),
			Emailid:  string(r.Emailid),
			Status:   models.StatusMissed,
		}
		if r.Attempted() {
			e.Status = models.StatusAttempted
			var n models.Number
			if err := json.Unmarshal(r.Score, &n); err == nil && n.Valid {
				score := n.Value
				e.Score = &score
			}
		}
		entries[i] = e
	}
	return buildView(entries, nil, nil, ListOptions{})
}
