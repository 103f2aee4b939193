package sqlxrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
)

const (
	broadcastColumns = `id, title, body, type, target_audience, sent_by, sent_at, recipient_count, failed_count`
	pendingColumns   = `id, broadcast_id, token, user_id, title, body, type, created_at, sent, sent_at, attempts`
	tokenColumns     = `token, user_id, role, enabled, device_info, updated_at`
)

type pendingRow struct {
	ID          string    `db:"id"`
	BroadcastID string    `db:"broadcast_id"`
	Token       string    `db:"token"`
	UserID      string    `db:"user_id"`
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	Type        string    `db:"type"`
	CreatedAt   time.Time `db:"created_at"`
	Sent        bool      `db:"sent"`
	SentAt      null.Time `db:"sent_at"`
	Attempts    int       `db:"attempts"`
}

func toPendingRow(p notification.Pending) pendingRow {
	return pendingRow{
		ID:          p.ID,
		BroadcastID: p.BroadcastID,
		Token:       p.Token,
		UserID:      p.UserID,
		Title:       p.Title,
		Body:        p.Body,
		Type:        string(p.Type),
		CreatedAt:   p.CreatedAt.UTC(),
		Sent:        p.Sent,
		SentAt:      nullTime(p.SentAt),
		Attempts:    p.Attempts,
	}
}

func (row pendingRow) pending() notification.Pending {
	return notification.Pending{
		ID:          row.ID,
		BroadcastID: row.BroadcastID,
		Token:       row.Token,
		UserID:      row.UserID,
		Title:       row.Title,
		Body:        row.Body,
		Type:        notification.Type(row.Type),
		CreatedAt:   row.CreatedAt.UTC(),
		Sent:        row.Sent,
		SentAt:      row.SentAt.Ptr(),
		Attempts:    row.Attempts,
	}
}

type notificationRepository struct {
	exec core.DBExecutor
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{exec: exec}
}

func (repo *notificationRepository) CreateBroadcast(ctx context.Context, b notification.Broadcast) (notification.Broadcast, error) {
	b.SentAt = b.SentAt.UTC()
	q := `INSERT INTO broadcasts (` + broadcastColumns + `) VALUES (:id, :title, :body, :type, :target_audience,
:sent_by, :sent_at, :recipient_count, :failed_count)`
	if _, err := repo.exec.NamedExecContext(ctx, q, b); err != nil {
		return notification.Broadcast{}, core.NewStoreError(err, "inserting broadcast")
	}
	return b, nil
}

func (repo *notificationRepository) UpdateBroadcast(ctx context.Context, b notification.Broadcast) (notification.Broadcast, error) {
	q := `UPDATE broadcasts SET recipient_count = :recipient_count, failed_count = :failed_count WHERE id = :id`
	res, err := repo.exec.NamedExecContext(ctx, q, b)
	if err != nil {
		return notification.Broadcast{}, core.NewStoreError(err, "updating broadcast")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notification.Broadcast{}, notification.ErrNotFound
	}
	return b, nil
}

func (repo *notificationRepository) GetBroadcast(ctx context.Context, id string) (notification.Broadcast, error) {
	var b notification.Broadcast
	if err := repo.exec.GetContext(ctx, &b, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id); err != nil {
		return notification.Broadcast{}, trapNoRowsErr(err, notification.ErrNotFound, "getting broadcast")
	}
	b.SentAt = b.SentAt.UTC()
	return b, nil
}

func (repo *notificationRepository) QueryBroadcasts(ctx context.Context, limit int) ([]notification.Broadcast, error) {
	broadcasts := make([]notification.Broadcast, 0)
	q := `SELECT ` + broadcastColumns + ` FROM broadcasts ORDER BY sent_at DESC, id DESC LIMIT $1`
	if err := repo.exec.SelectContext(ctx, &broadcasts, q, limit); err != nil {
		return nil, core.NewStoreError(err, "querying broadcasts")
	}
	return broadcasts, nil
}

func (repo *notificationRepository) CreatePending(ctx context.Context, p notification.Pending) error {
	q := `INSERT INTO pending_notifications (` + pendingColumns + `) VALUES (:id, :broadcast_id, :token, :user_id,
:title, :body, :type, :created_at, :sent, :sent_at, :attempts)`
	_, err := repo.exec.NamedExecContext(ctx, q, toPendingRow(p))
	return core.NewStoreError(err, "inserting pending notification")
}

func (repo *notificationRepository) UpdatePending(ctx context.Context, p notification.Pending) error {
	q := `UPDATE pending_notifications SET sent = :sent, sent_at = :sent_at, attempts = :attempts WHERE id = :id`
	res, err := repo.exec.NamedExecContext(ctx, q, toPendingRow(p))
	if err != nil {
		return core.NewStoreError(err, "updating pending notification")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) QueryPending(ctx context.Context, filter notification.PendingFilter) ([]notification.Pending, error) {
	var w where
	if filter.BroadcastID != "" {
		w.add("broadcast_id = ?", filter.BroadcastID)
	}
	if filter.Sent != nil {
		w.add("sent = ?", *filter.Sent)
	}
	if filter.MaxAttempts > 0 {
		w.add("attempts < ?", filter.MaxAttempts)
	}
	q := `SELECT ` + pendingColumns + ` FROM pending_notifications` + w.String() + ` ORDER BY created_at, id`
	args := w.args
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []pendingRow
	if err := repo.exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, core.NewStoreError(err, "querying pending notifications")
	}
	pending := make([]notification.Pending, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, row.pending())
	}
	return pending, nil
}

func (repo *notificationRepository) SaveToken(ctx context.Context, t notification.DeviceToken) (notification.DeviceToken, error) {
	t.UpdatedAt = t.UpdatedAt.UTC()
	q := `INSERT INTO device_tokens (` + tokenColumns + `) VALUES (:token, :user_id, :role, :enabled, :device_info,
:updated_at) ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, role = EXCLUDED.role,
enabled = EXCLUDED.enabled, device_info = EXCLUDED.device_info, updated_at = EXCLUDED.updated_at`
	if _, err := repo.exec.NamedExecContext(ctx, q, t); err != nil {
		return notification.DeviceToken{}, core.NewStoreError(err, "saving device token")
	}
	return t, nil
}

func (repo *notificationRepository) GetToken(ctx context.Context, token string) (notification.DeviceToken, error) {
	var t notification.DeviceToken
	if err := repo.exec.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM device_tokens WHERE token = $1`, token); err != nil {
		return notification.DeviceToken{}, trapNoRowsErr(err, notification.ErrNotFound, "getting device token")
	}
	return t, nil
}

func (repo *notificationRepository) QueryTokens(ctx context.Context, filter notification.TokenFilter) ([]notification.DeviceToken, error) {
	var w where
	if filter.Role != "" {
		w.add("role = ?", filter.Role)
	}
	if filter.Enabled != nil {
		w.add("enabled = ?", *filter.Enabled)
	}
	if len(filter.Tokens) > 0 {
		w.in("token", filter.Tokens...)
	}

	tokens := make([]notification.DeviceToken, 0)
	q := `SELECT ` + tokenColumns + ` FROM device_tokens` + w.String() + ` ORDER BY token`
	if err := repo.exec.SelectContext(ctx, &tokens, q, w.args...); err != nil {
		return nil, core.NewStoreError(err, "querying device tokens")
	}
	return tokens, nil
}
