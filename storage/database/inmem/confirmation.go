package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

type confirmation struct {
	code      string
	expiresAt time.Time
}

// ConfirmationStore keeps confirmation codes in memory; expiry follows core.NowFunc.
type ConfirmationStore struct {
	mu    sync.Mutex
	codes map[string]confirmation
}

var _ student.ConfirmationStore = (*ConfirmationStore)(nil) // interface compliance check

func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{codes: make(map[string]confirmation)}
}

func (st *ConfirmationStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.codes[key] = confirmation{code: code, expiresAt: core.NowFunc().Add(ttl)}
	return nil
}

func (st *ConfirmationStore) Get(_ context.Context, key string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.codes[key]
	if !ok {
		return "", student.ErrTokenExpired
	}
	if !core.NowFunc().Before(c.expiresAt) {
		delete(st.codes, key)
		return "", student.ErrTokenExpired
	}
	return c.code, nil
}

func (st *ConfirmationStore) Delete(_ context.Context, key string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.codes, key)
	return nil
}
