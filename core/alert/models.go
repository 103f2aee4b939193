package alert

import (
	"strings"
	"time"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Alert types raised by the system
const (
	TypeVerificationMismatch = "verification_mismatch"
	TypeBroadcastPartial     = "broadcast_partial_failure"
	TypeRekeyIncomplete      = "rekey_incomplete"
	TypeStudentDeleted       = "student_deleted"
)

// Alert is system generated; administrators only flip Read.
type Alert struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Priority  Priority  `json:"priority" db:"priority"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"` // UTC
	Read      bool      `json:"read" db:"read"`
}

type NewAlert struct {
	Type     string
	Title    string
	Message  string
	Priority Priority
}

// Activity is an append-only event of the activity feed.
type Activity struct {
	ID        string    `json:"id" db:"id"`
	Action    string    `json:"action" db:"action"`
	Actor     string    `json:"actor,omitempty" db:"actor"`
	Target    string    `json:"target,omitempty" db:"target"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"` // UTC
}

// QueryFilter is applied with AND semantics.
// Search does a case-insensitive match on the title or message.
type QueryFilter struct {
	Read     *bool    `query:"read"`
	Priority Priority `query:"priority"`
	Search   string   `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Priority = Priority(core.CleanString(string(qf.Priority), true /* lower */))
}

func (qf QueryFilter) Match(a Alert) bool {
	if qf.Read != nil && a.Read != *qf.Read {
		return false
	}
	if qf.Priority != "" && a.Priority != qf.Priority {
		return false
	}
	if qf.Search != "" {
		needle := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(a.Title), needle) && !strings.Contains(strings.ToLower(a.Message), needle) {
			return false
		}
	}
	return true
}

// MarkRead is the payload of a bulk mark-read request.
type MarkRead struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}
