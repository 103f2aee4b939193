package inmemdb

import (
	"context"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

type studentRepository struct {
	db *DB
	t  *studentTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db, t: db.student}
}

// clone detaches the mutable parts of s from the stored row.
func clone(s student.Student) student.Student {
	if s.ActivityLog != nil {
		s.ActivityLog = append([]student.ActivityEntry(nil), s.ActivityLog...)
	}
	return s
}

func (repo *studentRepository) CreateStudent(_ context.Context, s student.Student) (student.Student, error) {
	if err := repo.db.check(OpStudentCreate, s.StudentID); err != nil {
		return student.Student{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()

	if _, exists := repo.t.table[s.StudentID]; exists {
		return student.Student{}, student.ErrIDExists
	}
	s = clone(s)
	repo.t.table[s.StudentID] = &s
	return clone(s), nil
}

func (repo *studentRepository) GetStudent(_ context.Context, id string) (student.Student, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	if s, ok := repo.t.table[id]; ok {
		return clone(*s), nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	repo.t.RLock()
	defer repo.t.RUnlock()

	students := make([]student.Student, 0, len(repo.t.table))
	for _, s := range repo.t.table {
		if filter.Match(*s) {
			students = append(students, clone(*s))
		}
	}
	orderStudents(students, ordering)
	return students, nil
}

func (repo *studentRepository) UpdateStudent(_ context.Context, s student.Student) (student.Student, error) {
	if err := repo.db.check(OpStudentUpdate, s.StudentID); err != nil {
		return student.Student{}, err
	}
	repo.t.Lock()
	defer repo.t.Unlock()

	if _, ok := repo.t.table[s.StudentID]; !ok {
		return student.Student{}, student.ErrNotFound
	}
	s = clone(s)
	repo.t.table[s.StudentID] = &s
	return clone(s), nil
}

func (repo *studentRepository) DeleteStudents(_ context.Context, ids ...string) error {
	for _, id := range ids {
		if err := repo.db.check(OpStudentDelete, id); err != nil {
			return err
		}
	}
	repo.t.Lock()
	defer repo.t.Unlock()
	for _, id := range ids {
		delete(repo.t.table, id)
	}
	return nil
}
