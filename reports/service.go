// Package reports builds the dashboard views: a master list from the legacy
// service, enriched with per-row dependent fetches, filtered and sorted.
package reports

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

// Fetcher is the part of the upstream client the views need.
type Fetcher interface {
	Fetch(ctx context.Context, res upstream.Resource, params url.Values) (upstream.Result, error)
}

// MissingFieldsError is returned before any fetch when the session lacks a
// field the view is scoped by.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing " + strings.Join(e.Fields, ", ")
}

var (
	ErrTestNotFound    = errors.New("test not found")
	ErrStudentNotFound = errors.New("no report found for student")
)

var userScope = []string{models.FieldUsertype, models.FieldCity, models.FieldCourse}

// Service builds report views. All fetches of one call share the caller's
// context, so a cancelled request abandons its in-flight fetches.
type Service struct {
	up    Fetcher
	limit int
	log   *zap.Logger
}

// NewService creates a Service; fanoutLimit bounds concurrent dependent fetches.
func NewService(up Fetcher, fanoutLimit int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{up: up, limit: fanoutLimit, log: log}
}

// requireFields checks the session and the named entity ids.
func requireFields(sess models.Session, fields []string, ids map[string]string) error {
	missing := sess.Missing(fields...)
	for name, v := range ids {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

func scopeParams(sess models.Session, fields ...string) url.Values {
	v := url.Values{}
	for _, f := range fields {
		v.Set(f, sess.Field(f))
	}
	return v
}

func (s *Service) fetch(ctx context.Context, res upstream.Resource, params url.Values) (upstream.Result, error) {
	r, err := s.up.Fetch(ctx, res, params)
	if err != nil {
		return upstream.Result{}, fmt.Errorf("fetch %s: %w", res, err)
	}
	return r, nil
}

// dependentFailed logs a row-level failure; the row keeps its default.
func (s *Service) dependentFailed(res upstream.Resource, key string, err error) {
	s.log.Warn("dependent fetch failed", zap.String("resource", string(res)), zap.String("key", key), zap.Error(err))
}
