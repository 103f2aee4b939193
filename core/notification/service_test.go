package notification_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	emailsvc "github.com/daniel-alt-pages/ietac-sub000/services/email"
	logsvc "github.com/daniel-alt-pages/ietac-sub000/services/logger"
	inmemdb "github.com/daniel-alt-pages/ietac-sub000/storage/database/inmem"
)

type fixture struct {
	svc      *notification.Service
	students *student.Service
	db     *inmemdb.DB
	alerts *alert.Service
	mail   *emailsvc.ConsoleService
}

// setup stores 40 IETAC and 10 SG students. The first 25 IETAC students and the first 5 SG
// students own an enabled device token named "tok-<id>".
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	conf := core.NewTestConfig()
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	logger := logsvc.NewLogger(zap.NewNop(), conf)

	f := &fixture{db: inmemdb.Open(), mail: emailsvc.NewConsoleServiceMock(conf, logger)}
	f.alerts = alert.NewService(inmemdb.NewAlertRepository(f.db), f.mail, conf, logger)
	f.students = student.NewService(
		inmemdb.NewStudentRepository(f.db),
		inmemdb.NewConfirmationStore(),
		student.NewRoster(),
		f.alerts,
		validate,
		conf,
		logger,
	)
	f.svc = notification.NewService(inmemdb.NewNotificationRepository(f.db), f.students, f.alerts, validate, logger)

	add := func(inst student.Institution, base, count, withToken int) {
		for i := 0; i < count; i++ {
			id := fmt.Sprint(base + i)
			_, err := f.students.Create(ctx, student.NewStudent{
				ID: id, First: "Student", Last: id, Institution: inst, Email: "s" + id + "@gmail.com",
			}, "admin")
			require.NoError(t, err)
			if i < withToken {
				_, err = f.svc.RegisterToken(ctx, notification.NewDeviceToken{Token: "tok-" + id, UserID: id})
				require.NoError(t, err)
			}
		}
	}
	add(student.InstitutionIETAC, 1000, 40, 25)
	add(student.InstitutionSG, 2000, 10, 5)

	// neither of these may ever receive a broadcast
	_, err := f.svc.RegisterToken(ctx, notification.NewDeviceToken{Token: "tok-admin", UserID: "1000", Role: notification.RoleAdmin})
	require.NoError(t, err)
	_, err = f.svc.RegisterToken(ctx, notification.NewDeviceToken{Token: "tok-old", UserID: "1030"})
	require.NoError(t, err)
	_, err = f.svc.DisableToken(ctx, "tok-old")
	require.NoError(t, err)
	return f
}

func TestService_BroadcastAudiences(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		audience notification.Audience
		want     int
	}{
		{notification.AudienceIETAC, 25},
		{notification.AudienceSG, 5},
		{notification.AudienceAll, 30},
		{notification.AudiencePending, 30},
		{notification.AudienceVerified, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.audience), func(t *testing.T) {
			res, err := f.svc.Broadcast(ctx, notification.NewBroadcast{
				Title: "Exam", Body: "Tomorrow at 8", Audience: tt.audience,
			}, "admin")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Broadcast.RecipientCount)
			assert.Len(t, res.Succeeded, tt.want)
			assert.Empty(t, res.Failed)
			assert.Equal(t, notification.TypeInfo, res.Broadcast.Type)
			assert.Equal(t, "admin", res.Broadcast.SentBy)

			pending, err := f.svc.QueryPending(ctx, res.Broadcast.ID)
			require.NoError(t, err)
			assert.Len(t, pending, tt.want)
			for _, p := range pending {
				assert.NotEqual(t, "tok-admin", p.Token)
				assert.NotEqual(t, "tok-old", p.Token)
				assert.False(t, p.Sent)
			}
		})
	}

	broadcasts, err := f.svc.QueryBroadcasts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, broadcasts, len(tests))
}

func TestService_BroadcastByResolvedStatus(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// 1001 signs in with its own address, 1003 with someone else's.
	// 1002 is stored as MISMATCH without any used address, which resolves to PENDING.
	_, err := f.students.RecordVerification(ctx, "1001", student.Verification{Email: "s1001@gmail.com"})
	require.NoError(t, err)
	_, err = f.students.RecordVerification(ctx, "1003", student.Verification{Email: "other@gmail.com"})
	require.NoError(t, err)
	stale, err := f.students.Update(ctx, "1002", student.UpdateStudent{VerificationStatus: student.StatusMismatch}, "admin")
	require.NoError(t, err)
	require.Equal(t, student.StatusMismatch, stale.VerificationStatus)

	recipients := func(audience notification.Audience) []string {
		res, err := f.svc.Broadcast(ctx, notification.NewBroadcast{Title: "Exam", Body: "Tomorrow at 8", Audience: audience}, "admin")
		require.NoError(t, err)
		assert.Equal(t, len(res.Succeeded), res.Broadcast.RecipientCount)
		return res.Succeeded
	}

	verified := recipients(notification.AudienceVerified)
	assert.Equal(t, []string{"tok-1001"}, verified)

	pending := recipients(notification.AudiencePending)
	assert.Len(t, pending, 28)
	assert.Contains(t, pending, "tok-1002")
	assert.NotContains(t, pending, "tok-1001")
	assert.NotContains(t, pending, "tok-1003")

	assert.Len(t, recipients(notification.AudienceAll), 30)
}

func TestService_BroadcastValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		name   string
		nb     notification.NewBroadcast
		sender string
	}{
		{"missing title", notification.NewBroadcast{Body: "b", Audience: "all"}, "admin"},
		{"missing body", notification.NewBroadcast{Title: "t", Audience: "all"}, "admin"},
		{"unknown audience", notification.NewBroadcast{Title: "t", Body: "b", Audience: "teachers"}, "admin"},
		{"unknown type", notification.NewBroadcast{Title: "t", Body: "b", Type: "party", Audience: "all"}, "admin"},
		{"missing sender", notification.NewBroadcast{Title: "t", Body: "b", Audience: "all"}, " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Broadcast(ctx, tt.nb, tt.sender)
			assert.True(t, core.IsValidationError(err), err)
		})
	}
}

func TestService_PartialBroadcastAndRetry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.db.SetFault(func(op, key string) error {
		if op == inmemdb.OpPendingCreate && (key == "tok-1003" || key == "tok-1007") {
			return errors.New("quota exceeded")
		}
		return nil
	})

	res, err := f.svc.Broadcast(ctx, notification.NewBroadcast{
		Title: "Exam moved", Body: "Now on Friday", Type: "URGENT", Audience: "IETAC",
	}, "admin")
	assert.Equal(t, notification.ErrPartialBroadcast, err)
	assert.Len(t, res.Succeeded, 23)
	assert.ElementsMatch(t, []string{"tok-1003", "tok-1007"}, res.FailedTokens())
	assert.Equal(t, 23, res.Broadcast.RecipientCount)
	assert.Equal(t, 2, res.Broadcast.FailedCount)
	assert.Equal(t, notification.TypeUrgent, res.Broadcast.Type)

	alerts, err := f.alerts.Query(ctx, alert.QueryFilter{Priority: alert.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeBroadcastPartial, alerts[0].Type)
	assert.Len(t, f.mail.SentMessages(), 1, "high priority alerts are mailed")

	f.db.SetFault(nil)

	retried, err := f.svc.Retry(ctx, res.Broadcast.ID, notification.Retry{Tokens: res.FailedTokens()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1003", "tok-1007"}, retried.Succeeded)
	assert.Equal(t, 25, retried.Broadcast.RecipientCount)
	assert.Equal(t, 0, retried.Broadcast.FailedCount)

	again, err := f.svc.Retry(ctx, res.Broadcast.ID, notification.Retry{Tokens: []string{"tok-1003", "tok-1001"}})
	require.NoError(t, err)
	assert.Empty(t, again.Succeeded, "tokens already queued are skipped")
	assert.Equal(t, 25, again.Broadcast.RecipientCount)

	pending, err := f.svc.QueryPending(ctx, res.Broadcast.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 25)

	_, err = f.svc.Retry(ctx, "missing", notification.Retry{Tokens: []string{"tok-1003"}})
	assert.Equal(t, notification.ErrNotFound, pkgerrors.Cause(err))
	_, err = f.svc.Retry(ctx, res.Broadcast.ID, notification.Retry{})
	assert.True(t, core.IsValidationError(err))
}

func TestService_DeliveryBookkeeping(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.Broadcast(ctx, notification.NewBroadcast{Title: "Hi", Body: "Welcome", Audience: "sg"}, "admin")
	require.NoError(t, err)

	unsent, err := f.svc.Unsent(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, unsent, 3)

	_, err = f.svc.MarkSent(ctx, unsent[0])
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.svc.MarkFailed(ctx, unsent[1])
		require.NoError(t, err)
		unsent[1].Attempts++
	}

	left, err := f.svc.Unsent(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, left, 3, "one sent, one out of attempts")

	_, err = f.svc.QueryPending(ctx, "missing")
	assert.Equal(t, notification.ErrNotFound, pkgerrors.Cause(err))
	_, err = f.svc.DisableToken(ctx, "tok-unknown")
	assert.Equal(t, notification.ErrNotFound, pkgerrors.Cause(err))
}
