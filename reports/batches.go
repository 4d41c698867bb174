package reports

import (
	"context"

	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

var batchColumns = map[string]column[models.Batch]{
	"batchcode":    {text: func(b models.Batch) string { return b.Batchcode }},
	"batchname":    {text: func(b models.Batch) string { return b.Batchname }},
	"studentCount": {num: func(b models.Batch) float64 { return float64(b.StudentCount) }},
}

type batchDetail struct {
	count int
	name  string
}

// BatchList lists the batches in scope, each with its student count and name
// taken from the batch roster. A roster that cannot be fetched leaves that
// batch at zero students.
func (s *Service) BatchList(ctx context.Context, sess models.Session, opts ListOptions) (View[models.Batch], error) {
	if err := requireFields(sess, userScope, nil); err != nil {
		return View[models.Batch]{}, err
	}
	res, err := s.fetch(ctx, upstream.Batches, scopeParams(sess, userScope...))
	if err != nil {
		return View[models.Batch]{}, err
	}
	records, _ := upstream.DecodeRows[models.BatchRecord](res)

	details, err := MapSettled(ctx, s.limit, records, func(ctx context.Context, b models.BatchRecord) (batchDetail, error) {
		params := scopeParams(sess, userScope...)
		params.Set("batch", string(b.Batchcode))
		r, err := s.up.Fetch(ctx, upstream.BatchDetails, params)
		if err != nil {
			s.dependentFailed(upstream.BatchDetails, string(b.Batchcode), err)
			return batchDetail{}, err
		}
		members, ok := upstream.DecodeRows[models.BatchStudent](r)
		if !ok || len(members) == 0 {
			return batchDetail{}, nil
		}
		return batchDetail{count: len(members), name: string(members[0].Batchname)}, nil
	})
	if err != nil {
		return View[models.Batch]{}, err
	}

	batches := make([]models.Batch, len(records))
	for i, rec := range records {
		d := details[i].Or(batchDetail{})
		name := d.name
		if name == "" {
			name = string(rec.Batchname)
		}
		batches[i] = models.Batch{
			Batchcode:    string(rec.Batchcode),
			Batchname:    name,
			StudentCount: d.count,
		}
	}

	q := opts.filter(FilterQuery)
	return buildView(batches, func(b models.Batch) bool { return matchAll(b.Batchname, q) }, batchColumns, opts)
}

// BatchMembers lists the students of one batch.
func (s *Service) BatchMembers(ctx context.Context, sess models.Session, batchID string, opts ListOptions) (View[models.BatchMember], error) {
	if err := requireFields(sess, userScope, map[string]string{"batchId": batchID}); err != nil {
		return View[models.BatchMember]{}, err
	}
	params := scopeParams(sess, userScope...)
	params.Set("batch", batchID)
	res, err := s.fetch(ctx, upstream.BatchDetails, params)
	if err != nil {
		return View[models.BatchMember]{}, err
	}
	rows, _ := upstream.DecodeRows[models.BatchStudent](res)
	members := make([]models.BatchMember, len(rows))
	for i, r := range rows {
		members[i] = models.BatchMember{
			Idcardno: string(r.Idcardno),
			Studname: string(r.Studname),
			Emailid:  string(r.Emailid),
		}
	}
	q := opts.filter(FilterQuery)
	return buildView(members, func(m models.BatchMember) bool { return matchAll(m.Studname, q) }, nil, opts)
}
