package inmemdb

import (
	"context"

	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
)

type alertRepository struct {
	db *DB
	t  *alertTables
}

var _ alert.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(db *DB) *alertRepository {
	return &alertRepository{db: db, t: db.alert}
}

func (repo *alertRepository) CreateAlert(_ context.Context, a alert.Alert) (alert.Alert, error) {
	if err := repo.db.check(OpAlertCreate, a.ID); err != nil {
		return alert.Alert{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	repo.t.alerts = append(repo.t.alerts, &a)
	return a, nil
}

// QueryAlerts walks the table backwards: rows are appended in creation order.
func (repo *alertRepository) QueryAlerts(_ context.Context, filter alert.QueryFilter) ([]alert.Alert, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	alerts := make([]alert.Alert, 0)
	for i := len(repo.t.alerts) - 1; i >= 0; i-- {
		if a := *repo.t.alerts[i]; filter.Match(a) {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (repo *alertRepository) MarkAlertsRead(_ context.Context, ids ...string) (int64, error) {
	repo.t.Lock()
	defer repo.t.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var n int64
	for _, a := range repo.t.alerts {
		if wanted[a.ID] {
			a.Read = true
			n++
		}
	}
	return n, nil
}

func (repo *alertRepository) MarkAllAlertsRead(_ context.Context) (int64, error) {
	repo.t.Lock()
	defer repo.t.Unlock()

	var n int64
	for _, a := range repo.t.alerts {
		if !a.Read {
			a.Read = true
			n++
		}
	}
	return n, nil
}

func (repo *alertRepository) CreateActivity(_ context.Context, a alert.Activity) error {
	if err := repo.db.check(OpActivityCreate, a.ID); err != nil {
		return err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	repo.t.activity = append(repo.t.activity, &a)
	return nil
}

func (repo *alertRepository) QueryActivity(_ context.Context, limit int) ([]alert.Activity, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	activity := make([]alert.Activity, 0, limit)
	for i := len(repo.t.activity) - 1; i >= 0 && (limit <= 0 || len(activity) < limit); i-- {
		activity = append(activity, *repo.t.activity[i])
	}
	return activity, nil
}
