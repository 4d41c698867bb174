package reports

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

var studentColumns = map[string]column[models.Student]{
	"Idcardno":  {text: func(s models.Student) string { return s.Idcardno }},
	"studname":  {text: func(s models.Student) string { return s.Studname }},
	"batchcode": {text: func(s models.Student) string { return s.Batchcode }},
}

// StudentListView is the roster with the course-wide student total.
type StudentListView struct {
	View[models.Student]
	TotalStudents int `json:"totalStudents"`
}

// StudentList returns the roster in scope. TotalStudents comes from the
// dashboard counters and falls back to the roster size.
func (s *Service) StudentList(ctx context.Context, sess models.Session, opts ListOptions) (StudentListView, error) {
	if err := requireFields(sess, userScope, nil); err != nil {
		return StudentListView{}, err
	}
	res, err := s.fetch(ctx, upstream.Students, scopeParams(sess, userScope...))
	if err != nil {
		return StudentListView{}, err
	}
	records, _ := upstream.DecodeRows[models.StudentRecord](res)
	students := make([]models.Student, len(records))
	for i, r := range records {
		name := r.Batchname
		if name == "" {
			name = r.BatchName
		}
		students[i] = models.Student{
			Idcardno:  string(r.Idcardno),
			Studname:  string(r.Studname),
			Emailid:   string(r.Emailid),
			Batchcode: string(r.Batchcode),
			Batchname: string(name),
		}
	}

	total := len(students)
	if d, err := s.Dashboard(ctx, sess); err != nil {
		s.dependentFailed(upstream.DashboardSummary, sess.Course, err)
	} else if d.TotalStudents > 0 {
		total = int(d.TotalStudents)
	}

	id, email, name := opts.filter(FilterID), opts.filter(FilterEmail), opts.filter(FilterName)
	view, err := buildView(students, func(st models.Student) bool {
		return matchAll(st.Idcardno, id, st.Emailid, email, st.Studname, name)
	}, studentColumns, opts)
	if err != nil {
		return StudentListView{}, err
	}
	return StudentListView{View: view, TotalStudents: total}, nil
}

// ChartPoint is one bar or line point of the student report charts.
type ChartPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ScorePoint compares a student's score with the test average.
type ScorePoint struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	TestAverage float64 `json:"testAverage"`
}

// StudentReport is the per-student performance page.
type StudentReport struct {
	StudentID   string              `json:"studentId"`
	StudentName string              `json:"studentName"`
	Tests       []models.TestRecord `json:"tests"`
	Accuracy    float64             `json:"accuracy"`
	AvgScore    float64             `json:"avgScore"`
	TopScore    float64             `json:"topScore"`
	// Averages maps an exam id to its course average; exams whose average
	// could not be fetched are absent.
	Averages          map[string]float64 `json:"averages"`
	ScoreComparison   []ScorePoint       `json:"scoreComparison"`
	CorrectPercentage []ChartPoint       `json:"correctPercentage"`
	Recent            []ChartPoint       `json:"recent"`
	RecentDomain      [2]float64         `json:"recentDomain"`
}

var testDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTestDate parses the legacy Testdate column; unparseable dates are zero.
func ParseTestDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range testDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TestRecords converts student detail rows into test records sorted by date.
func TestRecords(rows []models.StudentTestRow) []models.TestRecord {
	tests := make([]models.TestRecord, len(rows))
	for i, r := range rows {
		no := string(r.Testno)
		if no == "" {
			no = "Test-" + strconv.Itoa(i+1)
		}
		tests[i] = models.TestRecord{
			TestNo:            no,
			ExamID:            no,
			TestDate:          ParseTestDate(string(r.Testdate)),
			TotalScore:        models.Coalesce(r.TotalScore, r.Section1sco),
			TotalNoOfCorrects: models.Coalesce(r.TotalNoofCorrects, r.Section1cor),
			TotalNoOfWrongs:   models.Coalesce(r.TotalNoofWrongs, r.Section1wro),
		}
	}
	slices.SortStableFunc(tests, func(a, b models.TestRecord) int {
		return a.TestDate.Compare(b.TestDate)
	})
	return tests
}

// StudentReport loads every test a student took, with the course average of
// each test. A missing average never fails the report.
func (s *Service) StudentReport(ctx context.Context, sess models.Session, studentID string) (*StudentReport, error) {
	if err := requireFields(sess, userScope, map[string]string{"studentId": studentID}); err != nil {
		return nil, err
	}
	params := scopeParams(sess, models.FieldCourse)
	params.Set("userid", studentID)
	res, err := s.fetch(ctx, upstream.StudentDetails, params)
	if err != nil {
		return nil, err
	}
	rows, ok := upstream.DecodeRows[models.StudentTestRow](res)
	if !ok || len(rows) == 0 {
		return nil, ErrStudentNotFound
	}

	rep := &StudentReport{
		StudentID:   studentID,
		StudentName: string(rows[0].Studname),
		Tests:       TestRecords(rows),
	}

	examIDs := distinctExamIDs(rep.Tests)
	avgs, err := MapSettled(ctx, s.limit, examIDs, func(ctx context.Context, examID string) (float64, error) {
		return s.testAverage(ctx, sess, examID)
	})
	if err != nil {
		return nil, err
	}
	rep.Averages = make(map[string]float64, len(examIDs))
	for i, id := range examIDs {
		if avgs[i].Err == nil {
			rep.Averages[id] = avgs[i].Value
		} else if !isNoAverage(avgs[i].Err) {
			s.dependentFailed(upstream.TestAverage, id, avgs[i].Err)
		}
	}
	rep.summarize()
	return rep, nil
}

func distinctExamIDs(tests []models.TestRecord) []string {
	seen := make(map[string]bool, len(tests))
	var ids []string
	for _, t := range tests {
		if t.ExamID == "" || seen[t.ExamID] {
			continue
		}
		seen[t.ExamID] = true
		ids = append(ids, t.ExamID)
	}
	return ids
}

type noAverageError struct{}

func (noAverageError) Error() string { return "test has no numeric average" }

func isNoAverage(err error) bool {
	_, ok := err.(noAverageError)
	return ok
}

// testAverage reads Total_Avg from the first row of the test average endpoint,
// rounded to two decimals.
func (s *Service) testAverage(ctx context.Context, sess models.Session, testno string) (float64, error) {
	params := scopeParams(sess, models.FieldCourse)
	params.Set("testno", testno)
	r, err := s.up.Fetch(ctx, upstream.TestAverage, params)
	if err != nil {
		return 0, err
	}
	items, ok := r.Elements()
	if !ok || len(items) == 0 {
		return 0, noAverageError{}
	}
	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil || !models.IsJSONNumber(first["Total_Avg"]) {
		return 0, noAverageError{}
	}
	var avg float64
	if err := json.Unmarshal(first["Total_Avg"], &avg); err != nil {
		return 0, noAverageError{}
	}
	return round2(avg), nil
}

func (rep *StudentReport) summarize() {
	tests := rep.Tests
	if len(tests) > 0 {
		var acc, sum float64
		top := math.Inf(-1)
		for _, t := range tests {
			acc += ratio(t.TotalNoOfCorrects, t.TotalNoOfCorrects+t.TotalNoOfWrongs)
			sum += t.TotalScore
			top = math.Max(top, t.TotalScore)
		}
		rep.Accuracy = acc / float64(len(tests)) * 100
		rep.AvgScore = sum / float64(len(tests))
		rep.TopScore = top
	}

	rep.ScoreComparison = make([]ScorePoint, len(tests))
	rep.CorrectPercentage = make([]ChartPoint, len(tests))
	for i, t := range tests {
		label := "Test " + t.TestNo
		rep.ScoreComparison[i] = ScorePoint{Name: label, Score: t.TotalScore, TestAverage: rep.Averages[t.ExamID]}
		rep.CorrectPercentage[i] = ChartPoint{
			Name:  label,
			Value: round2(ratio(t.TotalNoOfCorrects, t.TotalNoOfCorrects+t.TotalNoOfWrongs) * 100),
		}
	}

	recent := tests
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	rep.Recent = make([]ChartPoint, len(recent))
	lo, hi := 0.0, 100.0
	for i, t := range recent {
		rep.Recent[i] = ChartPoint{Name: "Test " + t.TestNo, Value: t.TotalScore}
		if i == 0 || t.TotalScore < lo {
			lo = t.TotalScore
		}
		if i == 0 || t.TotalScore > hi {
			hi = t.TotalScore
		}
	}
	switch {
	case len(recent) == 0:
		rep.RecentDomain = [2]float64{0, 100}
	case lo == hi:
		if hi == 0 {
			hi = 100
		}
		rep.RecentDomain = [2]float64{0, hi}
	default:
		rep.RecentDomain = [2]float64{lo, hi}
	}
}

func ratio(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return n / d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
