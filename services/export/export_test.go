package exportsvc

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

func sampleStudents() []student.Student {
	created := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	return []student.Student{
		{
			StudentID: "1001", First: "Ana", Last: "Gomez", Institution: student.InstitutionIETAC,
			Email: "ana.gomez@gmail.com", VerifiedWithEmail: "ana.gomez@gmail.com",
			VerificationStatus: student.StatusVerified, LoginCount: 2, CreatedAt: created, UpdatedAt: created,
		},
		{
			StudentID: "2001", First: "Carlos", Last: "Rodriguez", Institution: student.InstitutionSG,
			EmailNormalized: "carlos.rodriguez", VerificationStatus: student.StatusMismatch,
			Deleted: true, CreatedAt: created, UpdatedAt: created,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleStudents()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, header, records[0])
	assert.Equal(t, []string{"1001", "Ana", "Gomez", "IETAC"}, records[1][:4])
	assert.Equal(t, "VERIFIED", records[1][9])
	assert.Equal(t, "2", records[1][11])
	assert.Equal(t, "carlos.rodriguez", records[2][7])
	assert.Equal(t, "PENDING", records[2][9], "mismatch without used email shows as pending")
	assert.Equal(t, "yes", records[2][12])
	assert.Equal(t, "2026-01-05T10:00:00Z", records[2][13])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleStudents()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "Ana", rows[1][1])
	assert.Equal(t, "SG", rows[2][3])
}

func TestWriteUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ErrUnknownFormat, Write(&buf, "pdf", nil))
	assert.Equal(t, "students-20260105-100000.csv", Filename(FormatCSV, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))
	assert.Contains(t, ContentType(FormatXLSX), "spreadsheetml")
}
