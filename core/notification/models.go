package notification

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeUrgent  Type = "urgent"
)

type Audience string

const (
	AudienceAll      Audience = "all"
	AudiencePending  Audience = "pending"
	AudienceVerified Audience = "verified"
	AudienceIETAC    Audience = "ietac"
	AudienceSG       Audience = "sg"
)

// StudentFilter translates the audience into a roster query.
// pending and verified match the resolved status, not the stored one.
func (a Audience) StudentFilter() student.QueryFilter {
	switch a {
	case AudiencePending:
		return student.QueryFilter{Status: student.StatusPending}
	case AudienceVerified:
		return student.QueryFilter{Status: student.StatusVerified}
	case AudienceIETAC:
		return student.QueryFilter{Institution: student.InstitutionIETAC}
	case AudienceSG:
		return student.QueryFilter{Institution: student.InstitutionSG}
	default:
		return student.QueryFilter{}
	}
}

// Device token roles
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type Broadcast struct {
	ID             string    `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	Body           string    `json:"body" db:"body"`
	Type           Type      `json:"type" db:"type"`
	TargetAudience Audience  `json:"targetAudience" db:"target_audience"`
	SentBy         string    `json:"sentBy" db:"sent_by"`
	SentAt         time.Time `json:"sentAt" db:"sent_at"` // UTC
	RecipientCount int       `json:"recipientCount" db:"recipient_count"`
	FailedCount    int       `json:"failedCount" db:"failed_count"`
}

type NewBroadcast struct {
	Title    string   `json:"title" validate:"required,max=120"`
	Body     string   `json:"body" validate:"required,max=1000"`
	Type     Type     `json:"type" validate:"omitempty,notiftype"`
	Audience Audience `json:"audience" validate:"required,audience"`
}

func (nb *NewBroadcast) Validate(validate *validator.Validate) error {
	nb.Title = core.CleanString(nb.Title)
	nb.Body = strings.TrimSpace(nb.Body)
	nb.Type = Type(core.CleanString(string(nb.Type), true /* lower */))
	nb.Audience = Audience(core.CleanString(string(nb.Audience), true /* lower */))
	if nb.Type == "" {
		nb.Type = TypeInfo
	}
	return validate.Struct(nb)
}

// Pending is one notification waiting for the push relay, one per device token per broadcast.
type Pending struct {
	ID          string     `json:"id" db:"id"`
	BroadcastID string     `json:"broadcastId" db:"broadcast_id"`
	Token       string     `json:"token" db:"token"`
	UserID      string     `json:"userId" db:"user_id"`
	Title       string     `json:"title" db:"title"`
	Body        string     `json:"body" db:"body"`
	Type        Type       `json:"type" db:"type"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"` // UTC
	Sent        bool       `json:"sent" db:"sent"`
	SentAt      *time.Time `json:"sentAt,omitempty" db:"sent_at"` // UTC
	Attempts    int        `json:"attempts" db:"attempts"`
}

type PendingFilter struct {
	BroadcastID string
	Sent        *bool
	// MaxAttempts skips notifications tried this many times already, when > 0.
	MaxAttempts int
	Limit       int
}

func (f PendingFilter) Match(p Pending) bool {
	if f.BroadcastID != "" && p.BroadcastID != f.BroadcastID {
		return false
	}
	if f.Sent != nil && p.Sent != *f.Sent {
		return false
	}
	if f.MaxAttempts > 0 && p.Attempts >= f.MaxAttempts {
		return false
	}
	return true
}

type DeviceToken struct {
	Token      string    `json:"token" db:"token"`
	UserID     string    `json:"userId" db:"user_id"`
	Role       string    `json:"role" db:"role"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	DeviceInfo string    `json:"deviceInfo,omitempty" db:"device_info"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"` // UTC
}

type NewDeviceToken struct {
	Token      string `json:"token" validate:"required,max=4096"`
	UserID     string `json:"userId" validate:"required,max=64"`
	Role       string `json:"role" validate:"omitempty,oneof=student admin"`
	DeviceInfo string `json:"deviceInfo" validate:"max=512"`
}

func (nt *NewDeviceToken) Validate(validate *validator.Validate) error {
	nt.Token = core.CleanString(nt.Token)
	nt.UserID = core.CleanString(nt.UserID)
	nt.Role = core.CleanString(nt.Role, true /* lower */)
	nt.DeviceInfo = core.CleanString(nt.DeviceInfo)
	if nt.Role == "" {
		nt.Role = RoleStudent
	}
	return validate.Struct(nt)
}

type TokenFilter struct {
	Role    string
	Enabled *bool
	Tokens  []string
}

func (f TokenFilter) Match(t DeviceToken) bool {
	if f.Role != "" && t.Role != f.Role {
		return false
	}
	if f.Enabled != nil && t.Enabled != *f.Enabled {
		return false
	}
	if len(f.Tokens) > 0 {
		for _, tok := range f.Tokens {
			if tok == t.Token {
				return true
			}
		}
		return false
	}
	return true
}

// Failure is a device token the fan-out could not queue a notification for.
type Failure struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// Result is the outcome of a broadcast or a retry.
// Succeeded holds the device tokens a notification was queued for.
type Result struct {
	Broadcast Broadcast `json:"broadcast"`
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// FailedTokens lists the tokens to hand back to Retry.
func (r Result) FailedTokens() []string {
	tokens := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		tokens = append(tokens, f.Token)
	}
	return tokens
}

type Retry struct {
	Tokens []string `json:"tokens" validate:"required,min=1,dive,required"`
}

// Payload is what the device receives through the push provider.
type Payload struct {
	Notification PayloadNotification `json:"notification"`
	Data         PayloadData         `json:"data"`
}

type PayloadNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type PayloadData struct {
	Tag      string          `json:"tag"`
	Actions  []PayloadAction `json:"actions,omitempty"`
	Priority string          `json:"priority"`
}

type PayloadAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// BuildPayload renders p for the push provider. The broadcast id is the tag so that a device
// shows a single notification per broadcast.
func BuildPayload(p Pending) Payload {
	payload := Payload{
		Notification: PayloadNotification{Title: p.Title, Body: p.Body},
		Data:         PayloadData{Tag: p.BroadcastID, Priority: "normal"},
	}
	if p.Type == TypeUrgent {
		payload.Data.Priority = "high"
		payload.Data.Actions = []PayloadAction{{Action: "open", Title: "Open"}}
	}
	return payload
}
