package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crt-reports-server/export"
	"crt-reports-server/models"
	"crt-reports-server/reports"
)

func TestWriteSheet_VerifiesRowCount(t *testing.T) {
	v := reports.View[models.Test]{Rows: []models.Test{
		{TestNo: "T1", Total: 30, Missed: 2},
		{TestNo: "T2", Total: 25},
	}}
	sheet := reports.TestListSheet(v)
	path := filepath.Join(t.TempDir(), sheet.Filename)

	n, err := writeSheet(path, sheet)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	headers, rows, err := export.ReadRows(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test No.", "Participants", "Missed Participants"}, headers)
	assert.Equal(t, "T2", rows[1][0])
}

func TestWriteSheet_BadDirectory(t *testing.T) {
	_, err := writeSheet(filepath.Join(t.TempDir(), "missing", "x.xlsx"), export.Sheet{Name: "S"})
	assert.Error(t, err)
}
