package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Scope field names, as sent in the x-usertype / x-city / x-course headers.
const (
	FieldUsertype = "usertype"
	FieldCity     = "city"
	FieldCourse   = "course"
)

// Session is the identity snapshot that scopes every upstream query.
type Session struct {
	Token     string          `json:"token,omitempty"`
	Username  string          `json:"username"`
	Usertype  string          `json:"usertype"`
	City      string          `json:"city"`
	Course    string          `json:"course"` // batchcode of the logged in user
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Field returns the value of a scope field by name.
func (s Session) Field(name string) string {
	switch name {
	case FieldUsertype:
		return s.Usertype
	case FieldCity:
		return s.City
	case FieldCourse:
		return s.Course
	}
	return ""
}

// Missing lists the named fields that are blank in the session.
func (s Session) Missing(fields ...string) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(s.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Settings is the dashboard branding shown on every page.
type Settings struct {
	CompanyName    string `json:"companyName" binding:"required,min=2"`
	LogoURL        string `json:"logoUrl" binding:"omitempty,url"`
	ContactDetails string `json:"contactDetails" binding:"required,email"`
}

// DefaultSettings is returned until settings are saved for the first time.
func DefaultSettings() Settings {
	return Settings{
		CompanyName:    "CRT Reports Dashboard",
		LogoURL:        "",
		ContactDetails: "contact@crtdashboard.com",
	}
}

// --- Upstream records ---

// LoginRecord is one row of get_crt_login.
type LoginRecord struct {
	Username   Text `json:"Username"`
	Password   Text `json:"Password"`
	Usertype   Text `json:"Usertype"`
	Centercity Text `json:"centercity"`
	Batchcode  Text `json:"batchcode"`
}

// BatchRecord is one row of get_crt_batch.
type BatchRecord struct {
	Batchcode Text `json:"batchcode"`
	Batchname Text `json:"batchname"`
}

// BatchStudent is one row of get_crt_batch_data.
type BatchStudent struct {
	Idcardno  Text `json:"idcardno"`
	Studname  Text `json:"Studname"`
	Emailid   Text `json:"Emailid"`
	Batchname Text `json:"Batchname"`
}

// StudentRecord is one row of get_crt_studwise_detail_all. The legacy service
// spells the batch name column two ways.
type StudentRecord struct {
	Idcardno  Text `json:"Idcardno"`
	Studname  Text `json:"studname"`
	Emailid   Text `json:"emailid"`
	Batchcode Text `json:"batchcode"`
	Batchname Text `json:"Batchname"`
	BatchName Text `json:"BatchName"`
}

// StudentTestRow is one row of get_crt_studwise_detail.
type StudentTestRow struct {
	Studname          Text   `json:"studname"`
	Studentid         Text   `json:"studentid"`
	Testno            Text   `json:"testno"`
	Section1cor       Number `json:"section1cor"`
	Section1wro       Number `json:"section1wro"`
	Section1sco       Number `json:"section1sco"`
	TotalNoofCorrects Number `json:"TotalNoofCorrects"`
	TotalNoofWrongs   Number `json:"TotalNoofWrongs"`
	TotalScore        Number `json:"Total_Score"`
	Testdate          Text   `json:"Testdate"`
}

// TestRow is one row of get_crt_testwise.
type TestRow struct {
	Testno Text   `json:"testno"`
	Total  Number `json:"total"`
	ExamID Text   `json:"ExamId"`
}

// AttemptRow is one row of get_crt_testwise_detail.
type AttemptRow struct {
	Studname    Text   `json:"studname"`
	Studentid   Text   `json:"studentid"`
	Emailid     Text   `json:"emailid"`
	Section1cor Number `json:"section1cor"`
	Section1wro Number `json:"section1wro"`
	Section1sco Number `json:"section1sco"`
	Testdate    Text   `json:"Testdate"`
}

// MissedRow is one row of get_crt_studentwise_not.
type MissedRow struct {
	Idcardno Text `json:"idcardno"`
	Studname Text `json:"studname"`
	Emailid  Text `json:"Emailid"`
}

// RosterRow is one row of the combined attempted+missed roster. Any score
// other than null or absent, even a blank one, means the test was attempted.
type RosterRow struct {
	Idcardno Text            `json:"idcardno"`
	Studname Text            `json:"studname"`
	Emailid  Text            `json:"Emailid"`
	Score    json.RawMessage `json:"score"`
}

// Attempted reports whether the row carries a score.
func (r RosterRow) Attempted() bool {
	raw := bytes.TrimSpace(r.Score)
	return len(raw) > 0 && !bytes.Equal(raw, null)
}

// ParticipantRow is a per-student row of get_crt_testwise_avg.
type ParticipantRow struct {
	Studentid         Text   `json:"studentid"`
	Studname          Text   `json:"studname"`
	StudentName       Text   `json:"StudentName"`
	TotalScore        Number `json:"Total_Score"`
	Section1sco       Number `json:"section1sco"`
	TotalNoofCorrects Number `json:"TotalNoofCorrects"`
	Section1cor       Number `json:"section1cor"`
	TotalNoofWrongs   Number `json:"TotalNoofWrongs"`
	Section1wro       Number `json:"section1wro"`
	TotalNoOfSkipped  Number `json:"TotalNoOfSkipped"`
}

// DashboardRecord holds the course-wide counters of get_crt_dashboard.
type DashboardRecord struct {
	TotalTests     Number `json:"Total_Tests"`
	TotalStudents  Number `json:"Total_Students"`
	TotalAttendees Number `json:"Total_Attendes"`
	AvgScore       Number `json:"Total_tests_Avg_Score"`
}

// --- View models ---

// Batch is a batch list row enriched with its student count.
type Batch struct {
	Batchcode    string `json:"batchcode"`
	Batchname    string `json:"batchname"`
	StudentCount int    `json:"studentCount"`
}

// Student is a roster row.
type Student struct {
	Idcardno  string `json:"Idcardno"`
	Studname  string `json:"studname"`
	Emailid   string `json:"emailid"`
	Batchcode string `json:"batchcode"`
	Batchname string `json:"Batchname"`
}

// BatchMember is a student listed under one batch.
type BatchMember struct {
	Idcardno string `json:"idcardno"`
	Studname string `json:"Studname"`
	Emailid  string `json:"Emailid"`
}

// Test is a test list row enriched with its missed count.
type Test struct {
	TestNo string `json:"testno"`
	ExamID string `json:"ExamId,omitempty"`
	Total  int    `json:"total"`
	Missed int    `json:"missed"`
}

// TestRecord is one test taken by a student.
type TestRecord struct {
	TestNo            string    `json:"TestNo"`
	ExamID            string    `json:"ExamId"`
	TestDate          time.Time `json:"TestDate"`
	TotalScore        float64   `json:"Total_Score"`
	TotalNoOfCorrects float64   `json:"TotalNoOfCorrects"`
	TotalNoOfWrongs   float64   `json:"TotalNoOfWrongs"`
	TotalNoOfSkipped  float64   `json:"TotalNoOfSkipped"`
}

// Participant is a normalized per-student row of a test report.
type Participant struct {
	StudentID         string  `json:"StudentId"`
	StudentName       string  `json:"StudentName"`
	TotalScore        float64 `json:"Total_Score"`
	TotalNoOfCorrects float64 `json:"TotalNoOfCorrects"`
	TotalNoOfWrongs   float64 `json:"TotalNoOfWrongs"`
	TotalNoOfSkipped  float64 `json:"TotalNoOfSkipped"`
}

// TestSummary is the header block of a test report.
type TestSummary struct {
	Participants   int     `json:"participants"`
	AvgScore       float64 `json:"avgScore"`
	TotalAttempted float64 `json:"totalAttempted"`
	TotalSkipped   float64 `json:"totalSkipped"`
	AvgAttempted   float64 `json:"avgAttempted"`
	AvgSkipped     float64 `json:"avgSkipped"`
	FromUpstream   bool    `json:"fromUpstream"`
}

// Attempt is a student who sat a test.
type Attempt struct {
	StudentID    string  `json:"studentid"`
	StudentName  string  `json:"studname"`
	Email        string  `json:"emailid"`
	TotalCorrect float64 `json:"section1cor"`
	TotalWrong   float64 `json:"section1wro"`
	TotalScore   float64 `json:"section1sco"`
	TestDate     string  `json:"testdate"` // dd-mm-yyyy
}

// MissedStudent is a student who did not sit a test.
type MissedStudent struct {
	Idcardno string `json:"idcardno"`
	Studname string `json:"studname"`
	Emailid  string `json:"Emailid"`
}

// Roster status values.
const (
	StatusAttempted = "Attempted"
	StatusMissed    = "Missed"
)

// RosterEntry is a student of the combined attempted+missed roster.
type RosterEntry struct {
	Idcardno string   `json:"idcardno"`
	Studname string   `json:"studname"`
	Emailid  string   `json:"Emailid"`
	Status   string   `json:"status"`
	Score    *float64 `json:"score"`
}

// Dashboard is the course summary card set.
type Dashboard struct {
	TotalTests      float64 `json:"Total_Tests"`
	TotalStudents   float64 `json:"Total_Students"`
	TotalAttendees  float64 `json:"Total_Attendes"`
	AvgScore        float64 `json:"Total_tests_Avg_Score"`
	SkippedStudents float64 `json:"skippedStudents"` // TotalStudents - TotalAttendees
}
