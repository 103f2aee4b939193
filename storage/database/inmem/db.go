// Package inmemdb keeps every table in process memory.
// It backs development runs and tests; nothing survives a restart.
package inmemdb

import (
	"sort"
	"sync"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

// Write operations reported to the fault hook.
const (
	OpStudentCreate   = "student.create"
	OpStudentUpdate   = "student.update"
	OpStudentDelete   = "student.delete"
	OpBroadcastCreate = "broadcast.create"
	OpBroadcastUpdate = "broadcast.update"
	OpPendingCreate   = "pending.create"
	OpPendingUpdate   = "pending.update"
	OpTokenSave       = "token.save"
	OpAlertCreate     = "alert.create"
	OpActivityCreate  = "activity.create"
)

// FaultFunc may fail a write before it is applied. key identifies the row (id or token).
type FaultFunc func(op, key string) error

type (
	DB struct {
		student      *studentTable
		user         *userTable
		notification *notificationTables
		alert        *alertTables

		faultMu sync.RWMutex
		fault   FaultFunc
	}

	studentTable struct {
		sync.RWMutex
		table map[string]*student.Student
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	notificationTables struct {
		sync.RWMutex
		broadcasts map[string]*notification.Broadcast
		pending    []*notification.Pending
		tokens     map[string]*notification.DeviceToken
	}

	alertTables struct {
		sync.RWMutex
		alerts   []*alert.Alert
		activity []*alert.Activity
	}
)

func Open() *DB {
	return &DB{
		student: &studentTable{table: make(map[string]*student.Student)},
		user:    &userTable{table: make(map[string]*user.User)},
		notification: &notificationTables{
			broadcasts: make(map[string]*notification.Broadcast),
			tokens:     make(map[string]*notification.DeviceToken),
		},
		alert: &alertTables{},
	}
}

// SetFault installs fn as the fault hook; nil removes it.
func (db *DB) SetFault(fn FaultFunc) {
	db.faultMu.Lock()
	db.fault = fn
	db.faultMu.Unlock()
}

func (db *DB) check(op, key string) error {
	db.faultMu.RLock()
	fn := db.fault
	db.faultMu.RUnlock()
	if fn == nil {
		return nil
	}
	return core.NewStoreError(fn(op, key), op)
}

// orderStudents sorts in place following ordering; ties and empty ordering fall back on the id.
func orderStudents(students []student.Student, ordering []core.DBOrdering) {
	less := func(a, b student.Student, field string) (bool, bool) {
		var x, y string
		switch field {
		case "id", "student_id":
			x, y = a.StudentID, b.StudentID
		case "first":
			x, y = a.First, b.First
		case "last":
			x, y = a.Last, b.Last
		case "institution":
			x, y = string(a.Institution), string(b.Institution)
		case "created_at":
			if a.CreatedAt.Equal(b.CreatedAt) {
				return false, false
			}
			return a.CreatedAt.Before(b.CreatedAt), true
		case "updated_at":
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return false, false
			}
			return a.UpdatedAt.Before(b.UpdatedAt), true
		default:
			return false, false
		}
		if x == y {
			return false, false
		}
		return x < y, true
	}

	sort.SliceStable(students, func(i, j int) bool {
		for _, ord := range ordering {
			if lt, decided := less(students[i], students[j], ord.Field); decided {
				if ord.Ascending {
					return lt
				}
				return !lt
			}
		}
		return students[i].StudentID < students[j].StudentID
	})
}
