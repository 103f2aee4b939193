package sqlxrepos

import (
	"context"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
)

const (
	alertColumns    = `id, type, title, message, priority, timestamp, read`
	activityColumns = `id, action, actor, target, detail, timestamp`
)

type alertRepository struct {
	exec core.DBExecutor
}

var _ alert.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(exec core.DBExecutor) *alertRepository {
	return &alertRepository{exec: exec}
}

func (repo *alertRepository) CreateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	a.Timestamp = a.Timestamp.UTC()
	q := `INSERT INTO alerts (` + alertColumns + `) VALUES (:id, :type, :title, :message, :priority, :timestamp, :read)`
	if _, err := repo.exec.NamedExecContext(ctx, q, a); err != nil {
		return alert.Alert{}, core.NewStoreError(err, "inserting alert")
	}
	return a, nil
}

func (repo *alertRepository) QueryAlerts(ctx context.Context, filter alert.QueryFilter) ([]alert.Alert, error) {
	var w where
	if filter.Read != nil {
		w.add("read = ?", *filter.Read)
	}
	if filter.Priority != "" {
		w.add("priority = ?", string(filter.Priority))
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(title ILIKE ? OR message ILIKE ?)", val, val)
	}

	alerts := make([]alert.Alert, 0)
	q := `SELECT ` + alertColumns + ` FROM alerts` + w.String() + ` ORDER BY timestamp DESC, id DESC`
	if err := repo.exec.SelectContext(ctx, &alerts, q, w.args...); err != nil {
		return nil, core.NewStoreError(err, "querying alerts")
	}
	return alerts, nil
}

func (repo *alertRepository) MarkAlertsRead(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cond, args := inClause("id", ids...)
	res, err := repo.exec.ExecContext(ctx, `UPDATE alerts SET read = TRUE WHERE `+cond, args...)
	if err != nil {
		return 0, core.NewStoreError(err, "marking alerts read")
	}
	n, err := res.RowsAffected()
	return n, core.NewStoreError(err, "marking alerts read")
}

func (repo *alertRepository) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	res, err := repo.exec.ExecContext(ctx, `UPDATE alerts SET read = TRUE WHERE NOT read`)
	if err != nil {
		return 0, core.NewStoreError(err, "marking all alerts read")
	}
	n, err := res.RowsAffected()
	return n, core.NewStoreError(err, "marking all alerts read")
}

func (repo *alertRepository) CreateActivity(ctx context.Context, a alert.Activity) error {
	a.Timestamp = a.Timestamp.UTC()
	q := `INSERT INTO activity (` + activityColumns + `) VALUES (:id, :action, :actor, :target, :detail, :timestamp)`
	_, err := repo.exec.NamedExecContext(ctx, q, a)
	return core.NewStoreError(err, "inserting activity")
}

func (repo *alertRepository) QueryActivity(ctx context.Context, limit int) ([]alert.Activity, error) {
	activity := make([]alert.Activity, 0)
	q := `SELECT ` + activityColumns + ` FROM activity ORDER BY timestamp DESC, id DESC LIMIT $1`
	if err := repo.exec.SelectContext(ctx, &activity, q, limit); err != nil {
		return nil, core.NewStoreError(err, "querying activity")
	}
	return activity, nil
}
