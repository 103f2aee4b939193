package inmemdb

import (
	"context"
	"sort"

	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
)

type notificationRepository struct {
	db *DB
	t  *notificationTables
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db, t: db.notification}
}

func (repo *notificationRepository) CreateBroadcast(_ context.Context, b notification.Broadcast) (notification.Broadcast, error) {
	if err := repo.db.check(OpBroadcastCreate, b.ID); err != nil {
		return notification.Broadcast{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	repo.t.broadcasts[b.ID] = &b
	return b, nil
}

func (repo *notificationRepository) UpdateBroadcast(_ context.Context, b notification.Broadcast) (notification.Broadcast, error) {
	if err := repo.db.check(OpBroadcastUpdate, b.ID); err != nil {
		return notification.Broadcast{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	if _, ok := repo.t.broadcasts[b.ID]; !ok {
		return notification.Broadcast{}, notification.ErrNotFound
	}
	repo.t.broadcasts[b.ID] = &b
	return b, nil
}

func (repo *notificationRepository) GetBroadcast(_ context.Context, id string) (notification.Broadcast, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()
	if b, ok := repo.t.broadcasts[id]; ok {
		return *b, nil
	}
	return notification.Broadcast{}, notification.ErrNotFound
}

func (repo *notificationRepository) QueryBroadcasts(_ context.Context, limit int) ([]notification.Broadcast, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	broadcasts := make([]notification.Broadcast, 0, len(repo.t.broadcasts))
	for _, b := range repo.t.broadcasts {
		broadcasts = append(broadcasts, *b)
	}
	sort.Slice(broadcasts, func(i, j int) bool {
		if broadcasts[i].SentAt.Equal(broadcasts[j].SentAt) {
			return broadcasts[i].ID > broadcasts[j].ID
		}
		return broadcasts[i].SentAt.After(broadcasts[j].SentAt)
	})
	if limit > 0 && len(broadcasts) > limit {
		broadcasts = broadcasts[:limit]
	}
	return broadcasts, nil
}

func (repo *notificationRepository) CreatePending(_ context.Context, p notification.Pending) error {
	if err := repo.db.check(OpPendingCreate, p.Token); err != nil {
		return err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	repo.t.pending = append(repo.t.pending, &p)
	return nil
}

func (repo *notificationRepository) UpdatePending(_ context.Context, p notification.Pending) error {
	if err := repo.db.check(OpPendingUpdate, p.ID); err != nil {
		return err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	for i, stored := range repo.t.pending {
		if stored.ID == p.ID {
			repo.t.pending[i] = &p
			return nil
		}
	}
	return notification.ErrNotFound
}

func (repo *notificationRepository) QueryPending(_ context.Context, filter notification.PendingFilter) ([]notification.Pending, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	pending := make([]notification.Pending, 0)
	for _, p := range repo.t.pending {
		if !filter.Match(*p) {
			continue
		}
		pending = append(pending, *p)
		if filter.Limit > 0 && len(pending) == filter.Limit {
			break
		}
	}
	return pending, nil
}

func (repo *notificationRepository) SaveToken(_ context.Context, t notification.DeviceToken) (notification.DeviceToken, error) {
	if err := repo.db.check(OpTokenSave, t.Token); err != nil {
		return notification.DeviceToken{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	repo.t.tokens[t.Token] = &t
	return t, nil
}

func (repo *notificationRepository) GetToken(_ context.Context, token string) (notification.DeviceToken, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()
	if t, ok := repo.t.tokens[token]; ok {
		return *t, nil
	}
	return notification.DeviceToken{}, notification.ErrNotFound
}

func (repo *notificationRepository) QueryTokens(_ context.Context, filter notification.TokenFilter) ([]notification.DeviceToken, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	tokens := make([]notification.DeviceToken, 0, len(repo.t.tokens))
	for _, t := range repo.t.tokens {
		if filter.Match(*t) {
			tokens = append(tokens, *t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Token < tokens[j].Token })
	return tokens, nil
}
