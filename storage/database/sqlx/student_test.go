package sqlxrepos

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

var studentRowColumns = []string{
	"student_id", "first", "last", "institution", "email", "verification_status",
	"verified_with_email", "deleted", "activity_log", "login_count", "created_at", "updated_at", "record_state",
}

func TestStudentRepository_GetStudent(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE student_id = $1")).
			WithArgs("1001").
			WillReturnRows(sqlmock.NewRows(studentRowColumns).AddRow(
				"1001", "Ana", "Gomez", "IETAC", "ana.gomez@gmail.com", "VERIFIED",
				"ana.gomez@gmail.com", false, []byte(`[{"action":"created","actor":"admin","at":"2024-02-01T08:00:00Z"}]`),
				2, created, created, "ACTIVE",
			))

		s, err := NewStudentRepository(db).GetStudent(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, "1001", s.StudentID)
		assert.Equal(t, student.InstitutionIETAC, s.Institution)
		assert.Equal(t, student.StatusVerified, s.VerificationStatus)
		assert.Equal(t, 2, s.LoginCount)
		assert.Equal(t, "", s.GoogleEmail)
		require.Len(t, s.ActivityLog, 1)
		assert.Equal(t, "admin", s.ActivityLog[0].Actor)
		assert.True(t, s.IsLive())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE student_id = $1")).
			WithArgs("9999").
			WillReturnRows(sqlmock.NewRows(studentRowColumns))

		_, err := NewStudentRepository(db).GetStudent(ctx, "9999")
		assert.Equal(t, student.ErrNotFound, err)
	})

	t.Run("store down", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE student_id = $1")).
			WillReturnError(errors.New("connection refused"))

		_, err := NewStudentRepository(db).GetStudent(ctx, "1001")
		assert.True(t, core.IsStoreError(err))
	})
}

func TestStudentRepository_CreateStudent(t *testing.T) {
	ctx := context.Background()
	s := student.Student{
		StudentID:   "1001",
		First:       "Ana",
		Last:        "Gomez",
		Institution: student.InstitutionIETAC,
		Email:       "ana.gomez@gmail.com",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	t.Run("inserted", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := NewStudentRepository(db).CreateStudent(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, student.StateActive, created.RecordState)
		assert.Equal(t, []student.ActivityEntry{}, created.ActivityLog)
	})

	t.Run("id taken", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnError(&pq.Error{Code: uniqueViolation})

		_, err := NewStudentRepository(db).CreateStudent(ctx, s)
		assert.Equal(t, student.ErrIDExists, err)
	})
}

func TestStudentRepository_QueryStudents(t *testing.T) {
	ctx := context.Background()
	deleted := true

	tests := []struct {
		name      string
		filter    student.QueryFilter
		ordering  []core.DBOrdering
		wantQuery string
		wantArgs  []interface{}
	}{
		{
			name:      "defaults",
			wantQuery: "FROM students WHERE NOT deleted AND record_state IN ($1) ORDER BY student_id ASC",
			wantArgs:  []interface{}{"ACTIVE"},
		},
		{
			name:      "institution and ordering",
			filter:    student.QueryFilter{Institution: student.InstitutionSG},
			ordering:  []core.DBOrdering{{Field: "created_at"}, {Field: "last", Ascending: true}, {Field: "password"}},
			wantQuery: "WHERE NOT deleted AND record_state IN ($1) AND institution = $2 ORDER BY created_at DESC, last ASC",
			wantArgs:  []interface{}{"ACTIVE", "SG"},
		},
		{
			name:      "deleted only",
			filter:    student.QueryFilter{Deleted: &deleted, IDs: []string{"1001", "1002"}},
			wantQuery: "WHERE deleted = $1 AND record_state IN ($2) AND student_id IN ($3,$4)",
			wantArgs:  []interface{}{true, "ACTIVE", "1001", "1002"},
		},
		{
			name:      "migrating",
			filter:    student.QueryFilter{States: []student.RecordState{student.StateMigrating}, Search: "ana"},
			wantQuery: "WHERE NOT deleted AND record_state IN ($1) AND (student_id ILIKE $2 OR first ILIKE $3",
			wantArgs:  []interface{}{"MIGRATING", "%ana%", "%ana%", "%ana%", "%ana%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			args := make([]driver.Value, 0, len(tt.wantArgs))
			for range tt.wantArgs {
				args = append(args, sqlmock.AnyArg())
			}
			mock.ExpectQuery(regexp.QuoteMeta(tt.wantQuery)).
				WithArgs(args...).
				WillReturnRows(sqlmock.NewRows(studentRowColumns))

			got, err := NewStudentRepository(db).QueryStudents(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestWhereArgs(t *testing.T) {
	var w where
	w.add("deleted = ?", false)
	w.in("record_state", "ACTIVE", "MIGRATING")
	w.add("(a = ? OR b = ?)", 1, 2)
	assert.Equal(t, " WHERE deleted = $1 AND record_state IN ($2,$3) AND (a = $4 OR b = $5)", w.String())
	assert.Equal(t, []interface{}{false, "ACTIVE", "MIGRATING", 1, 2}, w.args)
}

func TestStudentRepository_UpdateStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET")).WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := NewStudentRepository(db).UpdateStudent(ctx, student.Student{StudentID: "1001"})
		assert.Equal(t, student.ErrNotFound, err)
	})

	t.Run("updated", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET")).WillReturnResult(sqlmock.NewResult(0, 1))

		s, err := NewStudentRepository(db).UpdateStudent(ctx, student.Student{StudentID: "1001", Deleted: true})
		require.NoError(t, err)
		assert.True(t, s.Deleted)
	})
}

func TestStudentRepository_WithinTx(t *testing.T) {
	ctx := context.Background()
	moved := student.Student{StudentID: "1009", First: "Ana", Last: "Gomez", RecordState: student.StateMigrating}

	t.Run("commit", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE student_id IN ($1)")).
			WithArgs("1001").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := NewStudentRepository(db).WithinTx(ctx, func(repo student.Repository) error {
			if _, err := repo.CreateStudent(ctx, moved); err != nil {
				return err
			}
			return repo.DeleteStudents(ctx, "1001")
		})
		assert.NoError(t, err)
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students")).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := NewStudentRepository(db).WithinTx(ctx, func(repo student.Repository) error {
			if _, err := repo.CreateStudent(ctx, moved); err != nil {
				return err
			}
			return repo.DeleteStudents(ctx, "1001")
		})
		require.Error(t, err)
		assert.True(t, core.IsStoreError(err))
	})
}
