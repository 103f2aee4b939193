package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
)

func TestNotificationRepository_QueryTokens(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM device_tokens WHERE role = $1 AND enabled = $2 AND token IN ($3,$4) ORDER BY token")).
		WithArgs("student", true, "tok-a", "tok-b").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id", "role", "enabled", "device_info", "updated_at"}).
			AddRow("tok-a", "1001", "student", true, "pixel", now))

	enabled := true
	tokens, err := NewNotificationRepository(db).QueryTokens(ctx, notification.TokenFilter{
		Role:    notification.RoleStudent,
		Enabled: &enabled,
		Tokens:  []string{"tok-a", "tok-b"},
	})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "1001", tokens[0].UserID)
	assert.True(t, tokens[0].Enabled)
}

func TestNotificationRepository_QueryPending(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	sent := false

	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_notifications WHERE sent = $1 AND attempts < $2 ORDER BY created_at, id LIMIT $3")).
		WithArgs(false, 5, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "broadcast_id", "token", "user_id", "title", "body", "type", "created_at", "sent", "sent_at", "attempts"}).
			AddRow("p1", "b1", "tok-a", "1001", "Hi", "Body", "urgent", time.Now(), false, nil, 1))

	pending, err := NewNotificationRepository(db).QueryPending(ctx, notification.PendingFilter{Sent: &sent, MaxAttempts: 5, Limit: 100})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, notification.TypeUrgent, pending[0].Type)
	assert.Nil(t, pending[0].SentAt)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestNotificationRepository_GetBroadcast(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewNotificationRepository(db).GetBroadcast(ctx, "missing")
	assert.Equal(t, notification.ErrNotFound, err)
}

func TestNotificationRepository_SaveToken(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (token) DO UPDATE")).
		WithArgs("tok-a", "1001", "student", false, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok, err := NewNotificationRepository(db).SaveToken(ctx, notification.DeviceToken{
		Token: "tok-a", UserID: "1001", Role: notification.RoleStudent, UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, tok.UpdatedAt.Location())
}

func TestAlertRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("query filters", func(t *testing.T) {
		db, mock := newMock(t)
		read := false
		mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE read = $1 AND priority = $2 AND (title ILIKE $3 OR message ILIKE $4) ORDER BY timestamp DESC")).
			WithArgs(false, "high", "%broadcast%", "%broadcast%").
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "title", "message", "priority", "timestamp", "read"}).
				AddRow("a1", alert.TypeBroadcastPartial, "Broadcast partially failed", "...", "high", time.Now(), false))

		alerts, err := NewAlertRepository(db).QueryAlerts(ctx, alert.QueryFilter{Read: &read, Priority: alert.PriorityHigh, Search: "broadcast"})
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, alert.PriorityHigh, alerts[0].Priority)
	})

	t.Run("mark read", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts SET read = TRUE WHERE id IN ($1,$2,$3)")).
			WithArgs("a1", "a2", "a3").
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := NewAlertRepository(db).MarkAlertsRead(ctx, "a1", "a2", "a3")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("activity limit", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM activity ORDER BY timestamp DESC, id DESC LIMIT $1")).
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "action", "actor", "target", "detail", "timestamp"}).
				AddRow("e1", "created", "admin", "1001", "", time.Now()))

		activity, err := NewAlertRepository(db).QueryActivity(ctx, 10)
		require.NoError(t, err)
		require.Len(t, activity, 1)
		assert.Equal(t, "1001", activity[0].Target)
	})
}
