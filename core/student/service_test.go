package student_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	emailsvc "github.com/daniel-alt-pages/ietac-sub000/services/email"
	logsvc "github.com/daniel-alt-pages/ietac-sub000/services/logger"
	inmemdb "github.com/daniel-alt-pages/ietac-sub000/storage/database/inmem"
)

type fixture struct {
	svc    *student.Service
	db     *inmemdb.DB
	alerts *alert.Service
	conf   *core.Config
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:   inmemdb.Open(),
		conf: core.NewTestConfig(),
		now:  time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC),
	}
	nowFunc := core.NowFunc
	core.NowFunc = func() time.Time { return f.now }
	t.Cleanup(func() { core.NowFunc = nowFunc })

	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	logger := logsvc.NewLogger(zap.NewNop(), f.conf)

	roster := student.NewRoster(
		student.Student{StudentID: "1001", First: "Ana", Last: "Gomez", Institution: student.InstitutionIETAC, Email: "ana.gomez@gmail.com", Password: "Ietac1001"},
		student.Student{StudentID: "1002", First: "Juan", Last: "Perez", Institution: student.InstitutionIETAC, Email: "juan.perez@gmail.com"},
		student.Student{StudentID: "2001", First: "Carlos", Last: "Rodriguez", Institution: student.InstitutionSG, EmailNormalized: "carlos.rodriguez"},
	)
	f.alerts = alert.NewService(inmemdb.NewAlertRepository(f.db), emailsvc.NewConsoleServiceMock(f.conf, logger), f.conf, logger)
	f.svc = student.NewService(
		inmemdb.NewStudentRepository(f.db),
		inmemdb.NewConfirmationStore(),
		roster,
		f.alerts,
		validate,
		f.conf,
		logger,
	)
	return f
}

func (f *fixture) alertTypes(t *testing.T) []string {
	t.Helper()
	alerts, err := f.alerts.Query(context.Background(), alert.QueryFilter{})
	require.NoError(t, err)
	types := make([]string, 0, len(alerts))
	for _, a := range alerts {
		types = append(types, a.Type)
	}
	return types
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	valid := student.NewStudent{ID: " 3001 ", First: "Maria", Last: "Lopez", Institution: "ietac", Email: "Maria.Lopez@gmail.com"}

	s, err := f.svc.Create(ctx, valid, "admin")
	require.NoError(t, err)
	assert.Equal(t, "3001", s.StudentID)
	assert.Equal(t, student.InstitutionIETAC, s.Institution)
	assert.Equal(t, "maria.lopez@gmail.com", s.Email)
	assert.Equal(t, student.StatusPending, s.VerificationStatus)
	assert.Equal(t, student.StateActive, s.RecordState)
	assert.Equal(t, 0, s.LoginCount)
	require.Len(t, s.ActivityLog, 1)
	assert.Equal(t, student.ActionCreated, s.ActivityLog[0].Action)

	tests := []struct {
		name  string
		input student.NewStudent
	}{
		{"id taken", valid},
		{"missing first", student.NewStudent{ID: "3002", Last: "Lopez", Email: "x@gmail.com"}},
		{"missing email", student.NewStudent{ID: "3002", First: "Maria", Last: "Lopez"}},
		{"bad institution", student.NewStudent{ID: "3002", First: "Maria", Last: "Lopez", Email: "x@gmail.com", Institution: "MIT"}},
		{"bad id", student.NewStudent{ID: "30/02", First: "Maria", Last: "Lopez", Email: "x@gmail.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.input, "admin")
			assert.True(t, core.IsValidationError(err), err)
		})
	}

	activity, err := f.alerts.QueryActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "3001", activity[0].Target)
}

func TestService_GetFallsBackOnRoster(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	s, err := f.svc.Get(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, "Carlos", s.First)

	_, err = f.svc.Get(ctx, "9999")
	assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))

	updated, err := f.svc.Update(ctx, "2001", student.UpdateStudent{Phone: "+57 301 000 0000"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Carlos", updated.First)
	assert.Equal(t, "+57 301 000 0000", updated.Phone)

	stored, err := f.svc.Query(ctx, student.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "2001", stored[0].StudentID)

	_, err = f.svc.Update(ctx, "9999", student.UpdateStudent{Phone: "1"}, "admin")
	assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
}

func TestService_DeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for _, id := range []string{"3001", "3002"} {
		_, err := f.svc.Create(ctx, student.NewStudent{ID: id, First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
		require.NoError(t, err)
	}

	_, err := f.svc.IssueDeletionToken(ctx, "9999", "admin")
	assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
	_, err = f.svc.IssueDeletionToken(ctx, "3001", "")
	assert.True(t, core.IsValidationError(err))

	_, err = f.svc.Delete(ctx, "3001", "123456", "admin")
	assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err), "never issued")

	c, err := f.svc.IssueDeletionToken(ctx, "3001", "admin")
	require.NoError(t, err)
	assert.Equal(t, student.DeletionCode("3001", "admin"), c.Code)
	assert.Equal(t, f.now.Add(f.conf.ConfirmationTTL), c.ExpiresAt)

	_, err = f.svc.Delete(ctx, "3001", c.Code, "someone-else")
	assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err), "token is scoped to its actor")
	_, err = f.svc.Delete(ctx, "3002", c.Code, "admin")
	assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err), "token is scoped to its student")
	other, err := f.svc.Get(ctx, "3002")
	require.NoError(t, err)
	assert.False(t, other.Deleted)

	_, err = f.svc.Delete(ctx, "3001", "000000", "admin")
	assert.Equal(t, student.ErrTokenMismatch, pkgerrors.Cause(err))

	deleted, err := f.svc.Delete(ctx, "3001", c.Code, "admin")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Contains(t, f.alertTypes(t), alert.TypeStudentDeleted)

	_, err = f.svc.Delete(ctx, "3001", c.Code, "admin")
	assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err), "codes are single use")

	live, err := f.svc.Query(ctx, student.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "3002", live[0].StudentID)

	yes := true
	trash, err := f.svc.Query(ctx, student.QueryFilter{Deleted: &yes}, nil)
	require.NoError(t, err)
	require.Len(t, trash, 1)

	restored, err := f.svc.Restore(ctx, "3001", "admin")
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.Equal(t, student.ActionRestored, restored.ActivityLog[len(restored.ActivityLog)-1].Action)

	_, err = f.svc.Restore(ctx, "9999", "admin")
	assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
}

func TestService_DeletionTokenExpires(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.Create(ctx, student.NewStudent{ID: "3001", First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
	require.NoError(t, err)
	c, err := f.svc.IssueDeletionToken(ctx, "3001", "admin")
	require.NoError(t, err)

	f.advance(f.conf.ConfirmationTTL + time.Second)
	_, err = f.svc.Delete(ctx, "3001", c.Code, "admin")
	assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err))
}

func TestService_Rekey(t *testing.T) {
	ctx := context.Background()

	t.Run("stored record", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Create(ctx, student.NewStudent{ID: "3001", First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
		require.NoError(t, err)

		c, err := f.svc.IssueRekeyToken(ctx, "3001", "3001-B", "admin")
		require.NoError(t, err)
		assert.Equal(t, student.RekeyCode("3001", "3001-B", "admin"), c.Code)

		moved, err := f.svc.Update(ctx, "3001", student.UpdateStudent{ID: "3001-B", Phone: "555", Token: c.Code}, "admin")
		require.NoError(t, err)
		assert.Equal(t, "3001-B", moved.StudentID)
		assert.Equal(t, "3001", moved.IDChangedFrom)
		assert.Equal(t, "admin", moved.IDChangedBy)
		assert.Equal(t, "Maria", moved.First)
		assert.Equal(t, "555", moved.Phone)
		assert.Equal(t, student.StateActive, moved.RecordState)

		_, err = f.svc.Get(ctx, "3001")
		assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
	})

	t.Run("roster record is shadowed", func(t *testing.T) {
		f := setup(t)
		c, err := f.svc.IssueRekeyToken(ctx, "2001", "2001-N", "admin")
		require.NoError(t, err)
		moved, err := f.svc.Rekey(ctx, "2001", "2001-N", student.UpdateStudent{}, c.Code, "admin")
		require.NoError(t, err)
		assert.Equal(t, "Carlos", moved.First)
		assert.Equal(t, "carlos.rodriguez", moved.AssignedAddress())

		stored, err := f.svc.Query(ctx, student.QueryFilter{}, nil)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "2001-N", stored[0].StudentID)
	})

	t.Run("target id taken", func(t *testing.T) {
		f := setup(t)
		for _, id := range []string{"3001", "3002"} {
			_, err := f.svc.Create(ctx, student.NewStudent{ID: id, First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
			require.NoError(t, err)
		}
		_, err := f.svc.IssueRekeyToken(ctx, "3001", "3002", "admin")
		assert.Equal(t, student.ErrIDExists, pkgerrors.Cause(err))
	})

	t.Run("target id served by the roster", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.IssueRekeyToken(ctx, "1001", "1002", "admin")
		assert.Equal(t, student.ErrIDExists, pkgerrors.Cause(err))

		_, err = f.svc.Rekey(ctx, "1001", "1002", student.UpdateStudent{}, student.RekeyCode("1001", "1002", "admin"), "admin")
		assert.Equal(t, student.ErrIDExists, pkgerrors.Cause(err))

		s, err := f.svc.Get(ctx, "1002")
		require.NoError(t, err)
		assert.Equal(t, "Juan", s.First)
		assert.Equal(t, "juan.perez@gmail.com", s.AssignedAddress())
		s, err = f.svc.Get(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, "Ana", s.First)
	})

	t.Run("conflict keeps the code", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Create(ctx, student.NewStudent{ID: "3001", First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
		require.NoError(t, err)
		c, err := f.svc.IssueRekeyToken(ctx, "3001", "3002", "admin")
		require.NoError(t, err)

		// 3002 gets taken between issuing and confirming
		_, err = f.svc.Create(ctx, student.NewStudent{ID: "3002", First: "Pedro", Last: "Diaz", Email: "pedro.diaz@gmail.com"}, "admin")
		require.NoError(t, err)
		_, err = f.svc.Rekey(ctx, "3001", "3002", student.UpdateStudent{}, c.Code, "admin")
		assert.Equal(t, student.ErrIDExists, pkgerrors.Cause(err))

		require.NoError(t, inmemdb.NewStudentRepository(f.db).DeleteStudents(ctx, "3002"))
		moved, err := f.svc.Rekey(ctx, "3001", "3002", student.UpdateStudent{}, c.Code, "admin")
		require.NoError(t, err)
		assert.Equal(t, "Maria", moved.First)
		assert.Equal(t, "3001", moved.IDChangedFrom)
	})

	t.Run("unknown source", func(t *testing.T) {
		f := setup(t)
		c, err := f.svc.IssueRekeyToken(ctx, "9999", "9999-B", "admin")
		require.NoError(t, err)
		_, err = f.svc.Rekey(ctx, "9999", "9999-B", student.UpdateStudent{}, c.Code, "admin")
		assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
	})

	t.Run("id change without token", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Update(ctx, "2001", student.UpdateStudent{ID: "2001-N"}, "admin")
		assert.Equal(t, student.ErrTokenExpired, pkgerrors.Cause(err))
	})
}

func TestService_RekeyInterruptedThenReconciled(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.Create(ctx, student.NewStudent{ID: "3001", First: "Maria", Last: "Lopez", Email: "maria.lopez@gmail.com"}, "admin")
	require.NoError(t, err)

	storeDown := errors.New("connection reset")
	f.db.SetFault(func(op, key string) error {
		if op == inmemdb.OpStudentDelete && key == "3001" {
			return storeDown
		}
		return nil
	})

	c, err := f.svc.IssueRekeyToken(ctx, "3001", "3001-B", "admin")
	require.NoError(t, err)
	_, err = f.svc.Rekey(ctx, "3001", "3001-B", student.UpdateStudent{}, c.Code, "admin")
	require.Error(t, err)
	assert.True(t, core.IsStoreError(err))
	assert.Contains(t, f.alertTypes(t), alert.TypeRekeyIncomplete)

	// both ids are still present; only the old one is visible
	visible, err := f.svc.Query(ctx, student.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "3001", visible[0].StudentID)
	migrating, err := f.svc.Get(ctx, "3001-B")
	require.NoError(t, err)
	assert.Equal(t, student.StateMigrating, migrating.RecordState)

	f.db.SetFault(nil)

	n, err := f.svc.ReconcileMigrations(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "still within the grace period")

	f.advance(2 * time.Minute)
	n, err = f.svc.ReconcileMigrations(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	visible, err = f.svc.Query(ctx, student.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "3001-B", visible[0].StudentID)
	_, err = f.svc.Get(ctx, "3001")
	assert.Equal(t, student.ErrNotFound, pkgerrors.Cause(err))
}

func TestService_RecordVerification(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		name       string
		id         string
		v          student.Verification
		wantStatus student.Status
		wantErr    error
	}{
		{"matching address", "1001", student.Verification{Email: "Ana.Gomez@gmail.com", Name: "Ana Gomez"}, student.StatusVerified, nil},
		{"normalized address", "2001", student.Verification{Email: "carlos.rodriguez@gmail.com"}, student.StatusVerified, nil},
		{"different address", "1002", student.Verification{Email: "otro@gmail.com"}, student.StatusMismatch, nil},
		{"unknown student", "9999", student.Verification{Email: "x@gmail.com"}, "", student.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.svc.RecordVerification(ctx, tt.id, tt.v)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, pkgerrors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, s.VerificationStatus)
			assert.Equal(t, tt.wantStatus, student.ResolveStatus(s))
			assert.Equal(t, 1, s.LoginCount)
			assert.NotNil(t, s.VerifiedAt)
		})
	}

	_, err := f.svc.RecordVerification(ctx, "1001", student.Verification{Email: "not-an-email"})
	assert.True(t, core.IsValidationError(err))

	assert.Contains(t, f.alertTypes(t), alert.TypeVerificationMismatch)

	verified, err := f.svc.Query(ctx, student.QueryFilter{Status: "verified"}, []core.DBOrdering{{Field: "id", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, verified, 2)
	assert.Equal(t, "1001", verified[0].StudentID)
	assert.Equal(t, "2001", verified[1].StudentID)
}

func TestService_SeedAndOptimize(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	n, err := f.svc.Seed(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.Seed(ctx, "admin")
	require.NoError(t, err)
	assert.Zero(t, n, "seeding twice is a no-op")

	_, err = f.svc.RecordVerification(ctx, "1001", student.Verification{Email: "ana.gomez@gmail.com"})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, "1002", student.UpdateStudent{Phone: "999"}, "admin")
	require.NoError(t, err)

	removed, err := f.svc.Optimize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2001"}, removed)

	s, err := f.svc.Get(ctx, "2001")
	require.NoError(t, err, "the roster still serves the record")
	assert.Equal(t, "Carlos", s.First)

	removed, err = f.svc.Optimize(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
