package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

type userRepository struct {
	t *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{t: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.t.table))
	for _, u := range repo.t.table {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email string, excludedIDs ...string) error {
	repo.t.RLock()
	defer repo.t.RUnlock()

	excluded := make(map[string]bool, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = true
	}
	for _, usr := range repo.t.table {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.t.Lock()
	defer repo.t.Unlock()

	repo.t.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.t.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	key := strings.ToLower(filter.UsernameOrEmail)
	if key == "" {
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.t.table {
		if usr.Username == key || usr.Email == key {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(_ context.Context) ([]user.User, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()
	return repo.query(), nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.t.Lock()
	defer repo.t.Unlock()

	if _, ok := repo.t.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.t.table[usr.ID] = &usr
	return usr, nil
}
