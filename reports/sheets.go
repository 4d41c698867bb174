package reports

import (
	"crt-reports-server/export"
	"crt-reports-server/models"
)

// BatchListSheet exports the batch list as shown.
func BatchListSheet(v View[models.Batch]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, b := range v.Rows {
		rows[i] = []any{b.Batchcode, b.Batchname, b.StudentCount}
	}
	return export.Sheet{
		Name:     "Batches",
		Filename: "batch-list.xlsx",
		Headers:  []string{"Batch ID", "Batch Name", "Students Count"},
		Rows:     rows,
	}
}

// BatchMembersSheet exports the students of one batch.
func BatchMembersSheet(batchID string, v View[models.BatchMember]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, m := range v.Rows {
		rows[i] = []any{m.Idcardno, m.Studname, m.Emailid}
	}
	return export.Sheet{
		Name:     "Students",
		Filename: export.Filename("batch-" + batchID + "-students"),
		Headers:  []string{"Student ID", "Student Name", "Email ID"},
		Rows:     rows,
	}
}

// StudentListSheet exports the roster as shown.
func StudentListSheet(v StudentListView) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, s := range v.Rows {
		rows[i] = []any{s.Idcardno, s.Studname, s.Emailid, s.Batchcode, s.Batchname}
	}
	return export.Sheet{
		Name:     "Students",
		Filename: "student-list.xlsx",
		Headers:  []string{"Student ID", "Name", "Email", "Batch", "BatchName"},
		Rows:     rows,
	}
}

// StudentTestsSheet exports the tests taken by one student.
func StudentTestsSheet(rep *StudentReport) export.Sheet {
	rows := make([][]any, len(rep.Tests))
	for i, t := range rep.Tests {
		date := ""
		if !t.TestDate.IsZero() {
			date = t.TestDate.Format("02-01-2006")
		}
		rows[i] = []any{t.TestNo, t.ExamID, date, t.TotalScore, t.TotalNoOfCorrects, t.TotalNoOfWrongs, t.TotalNoOfSkipped}
	}
	return export.Sheet{
		Name:     "Tests",
		Filename: export.Filename("tests-taken-" + rep.StudentID),
		Headers:  []string{"Test No.", "Exam ID", "Date", "Score", "Correct", "Wrong", "Skipped"},
		Rows:     rows,
	}
}

// TestListSheet exports the test list as shown.
func TestListSheet(v View[models.Test]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, t := range v.Rows {
		rows[i] = []any{t.TestNo, t.Total, t.Missed}
	}
	return export.Sheet{
		Name:     "Tests",
		Filename: "test-reports.xlsx",
		Headers:  []string{"Test No.", "Participants", "Missed Participants"},
		Rows:     rows,
	}
}

// AttemptedSheet exports the students who sat a test.
func AttemptedSheet(testno string, v View[models.Attempt]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, a := range v.Rows {
		rows[i] = []any{a.StudentID, a.StudentName, a.Email, a.TotalCorrect, a.TotalWrong, a.TotalScore, a.TestDate}
	}
	return export.Sheet{
		Name:     "Attempted Students",
		Filename: export.Filename("attempted-students-" + testno),
		Headers:  []string{"Student ID", "Student Name", "Student Email", "Total Correct", "Total Wrong", "Total Score", "Test Date"},
		Rows:     rows,
	}
}

// MissedSheet exports the students who missed a test.
func MissedSheet(testno string, v View[models.MissedStudent]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, m := range v.Rows {
		rows[i] = []any{m.Idcardno, m.Studname, m.Emailid}
	}
	return export.Sheet{
		Name:     "Missed Students",
		Filename: export.Filename("missed-students-" + testno),
		Headers:  []string{"Student ID", "Student Name", "Student Email"},
		Rows:     rows,
	}
}

// RosterSheet exports every student of a test with their status.
func RosterSheet(testno string, v View[models.RosterEntry]) export.Sheet {
	rows := make([][]any, len(v.Rows))
	for i, e := range v.Rows {
		var score any = ""
		if e.Score != nil {
			score = *e.Score
		}
		rows[i] = []any{e.Idcardno, e.Studname, e.Emailid, e.Status, score}
	}
	return export.Sheet{
		Name:     "Test_" + testno + "_All_Students",
		Filename: export.Filename("all-students-for-" + testno),
		Headers:  []string{"Student ID", "Student Name", "Student Email", "Status", "Score"},
		Rows:     rows,
	}
}
