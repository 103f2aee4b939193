// Package exportsvc renders the roster as spreadsheets.
package exportsvc

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	sheetName = "Students"
)

var ErrUnknownFormat = errors.New("unknown export format")

var (
	header = []string{
		"ID", "First", "Last", "Institution", "Gender", "Birth", "Phone",
		"Assigned email", "Used email", "Status", "Verified at", "Logins", "Deleted",
		"Created at", "Updated at",
	}
	columnWidths = []float64{12, 18, 18, 12, 8, 12, 18, 30, 30, 12, 20, 8, 8, 20, 20}
)

// Formats lists the supported formats.
func Formats() []string { return []string{FormatXLSX, FormatCSV} }

func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename is the suggested attachment name for an export taken at t.
func Filename(format string, t time.Time) string {
	return fmt.Sprintf("students-%s.%s", t.UTC().Format("20060102-150405"), format)
}

// Write renders students in format. Statuses are resolved, not the stored values.
func Write(w io.Writer, format string, students []student.Student) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, students)
	case FormatCSV:
		return WriteCSV(w, students)
	default:
		return ErrUnknownFormat
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func row(s student.Student) []string {
	deleted := "no"
	if s.Deleted {
		deleted = "yes"
	}
	created, updated := s.CreatedAt, s.UpdatedAt
	return []string{
		s.StudentID,
		s.First,
		s.Last,
		string(s.Institution),
		s.Gender,
		s.Birth,
		s.Phone,
		s.AssignedAddress(),
		s.UsedAddress(),
		string(student.ResolveStatus(s)),
		formatTime(s.VerifiedAt),
		strconv.Itoa(s.LoginCount),
		deleted,
		formatTime(&created),
		formatTime(&updated),
	}
}

func WriteCSV(w io.Writer, students []student.Student) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, s := range students {
		if err := cw.Write(row(s)); err != nil {
			return errors.Wrapf(err, "writing csv row %s", s.StudentID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

func WriteXLSX(w io.Writer, students []student.Student) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "closing workbook")
		}
	}()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return errors.Wrap(err, "creating sheet")
	}
	if err = f.DeleteSheet("Sheet1"); err != nil {
		return errors.Wrap(err, "deleting default sheet")
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}

	for i, title := range header {
		if err = setCell(f, i+1, 1, title); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err = f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			return errors.Wrap(err, "setting column width")
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err = f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return errors.Wrap(err, "styling header")
	}

	for r, s := range students {
		for c, val := range row(s) {
			if val == "" {
				continue
			}
			if err = setCell(f, c+1, r+2, val); err != nil {
				return err
			}
		}
	}

	if err = f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return errors.Wrap(err, "freezing header")
	}

	_, err = f.WriteTo(w)
	return errors.Wrap(err, "writing workbook")
}

func setCell(f *excelize.File, col, row int, val string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return errors.Wrap(err, "converting coordinates")
	}
	return errors.Wrapf(f.SetCellValue(sheetName, cell, val), "setting %s", cell)
}
