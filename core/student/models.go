package student

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

type Institution string

const (
	InstitutionIETAC Institution = "IETAC"
	InstitutionSG    Institution = "SG"
)

// Status is the verification status of a Student.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusMismatch Status = "MISMATCH"
)

// RecordState marks records in the middle of a re-key.
// MIGRATING records are hidden from default queries until they are flipped back to ACTIVE.
type RecordState string

const (
	StateActive    RecordState = "ACTIVE"
	StateMigrating RecordState = "MIGRATING"
)

// Activity log actions
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionDeleted    = "deleted"
	ActionRestored   = "restored"
	ActionRekeyed    = "rekeyed"
	ActionVerified   = "verified"
	ActionMismatch   = "mismatch"
	ActionSeeded     = "seeded"
	ActionReconciled = "reconciled"
)

type ActivityEntry struct {
	Action string    `json:"action"`
	Actor  string    `json:"actor,omitempty"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

type Student struct {
	StudentID   string      `json:"studentId" yaml:"studentId"`
	First       string      `json:"first" yaml:"first"`
	Last        string      `json:"last" yaml:"last"`
	Institution Institution `json:"institution" yaml:"institution"`
	Gender      string      `json:"gender,omitempty" yaml:"gender"`
	Birth       string      `json:"birth,omitempty" yaml:"birth"`
	Phone       string      `json:"phone,omitempty" yaml:"phone"`

	// assigned email aliases, see AssignedAddress
	Email           string `json:"email,omitempty" yaml:"email"`
	EmailNormalized string `json:"emailNormalized,omitempty" yaml:"emailNormalized"`
	AssignedEmail   string `json:"assignedEmail,omitempty" yaml:"assignedEmail"`

	Password         string `json:"password,omitempty" yaml:"password"`
	AssignedPassword string `json:"assignedPassword,omitempty" yaml:"assignedPassword"`

	VerificationStatus Status     `json:"verificationStatus,omitempty" yaml:"verificationStatus"`
	VerifiedWithEmail  string     `json:"verifiedWithEmail,omitempty" yaml:"-"`
	GoogleEmail        string     `json:"googleEmail,omitempty" yaml:"-"`
	VerifiedWithName   string     `json:"verifiedWithName,omitempty" yaml:"-"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty" yaml:"-"`

	Deleted     bool            `json:"deleted" yaml:"-"`
	ActivityLog []ActivityEntry `json:"activityLog" yaml:"-"`
	LoginCount  int             `json:"loginCount" yaml:"-"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"-"` // UTC
	UpdatedAt   time.Time       `json:"updatedAt" yaml:"-"` // UTC

	IDChangedFrom string      `json:"idChangedFrom,omitempty" yaml:"-"`
	IDChangedAt   *time.Time  `json:"idChangedAt,omitempty" yaml:"-"`
	IDChangedBy   string      `json:"idChangedBy,omitempty" yaml:"-"`
	RecordState   RecordState `json:"recordState,omitempty" yaml:"-"`
}

// AssignedAddress resolves the institutionally assigned email.
// Precedence: email, emailNormalized, assignedEmail.
func (s Student) AssignedAddress() string {
	return core.FirstNonEmpty(s.Email, s.EmailNormalized, s.AssignedEmail)
}

// UsedAddress is the address the student actually signed in with, if any.
// Precedence: verifiedWithEmail, googleEmail.
func (s Student) UsedAddress() string {
	return core.FirstNonEmpty(s.VerifiedWithEmail, s.GoogleEmail)
}

// Credential resolves the assigned password. Precedence: password, assignedPassword.
func (s Student) Credential() string {
	return core.FirstNonEmpty(s.Password, s.AssignedPassword)
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.First + " " + s.Last)
}

// IsLive reports whether the record shows in default views.
func (s Student) IsLive() bool {
	return !s.Deleted && s.State() == StateActive
}

func (s Student) State() RecordState {
	if s.RecordState == "" {
		return StateActive
	}
	return s.RecordState
}

func (s *Student) log(action, actor, detail string, at time.Time) {
	s.ActivityLog = append(s.ActivityLog, ActivityEntry{Action: action, Actor: actor, At: at, Detail: detail})
}

// NewStudent contains information needed to create a new Student.
type NewStudent struct {
	ID          string      `json:"id" validate:"required,max=32,studentid"`
	First       string      `json:"first" validate:"required"`
	Last        string      `json:"last" validate:"required"`
	Institution Institution `json:"institution" validate:"omitempty,institution"`
	Gender      string      `json:"gender"`
	Birth       string      `json:"birth"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email" validate:"required"`
	Password    string      `json:"password"`
}

func (ns *NewStudent) Clean() {
	ns.ID = core.CleanString(ns.ID)
	ns.First = core.CleanString(ns.First)
	ns.Last = core.CleanString(ns.Last)
	ns.Institution = Institution(strings.ToUpper(core.CleanString(string(ns.Institution))))
	ns.Gender = core.CleanString(ns.Gender)
	ns.Birth = core.CleanString(ns.Birth)
	ns.Phone = core.CleanString(ns.Phone)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Clean()
	return validate.Struct(ns)
}

// UpdateStudent defines what information may be provided to modify an existing Student.
// Blank fields are left untouched. A different ID turns the update into a re-key,
// which requires Token.
type UpdateStudent struct {
	ID                 string      `json:"id" validate:"omitempty,max=32,studentid"`
	First              string      `json:"first"`
	Last               string      `json:"last"`
	Institution        Institution `json:"institution" validate:"omitempty,institution"`
	Gender             string      `json:"gender"`
	Birth              string      `json:"birth"`
	Phone              string      `json:"phone"`
	Email              string      `json:"email"`
	Password           string      `json:"password"`
	VerificationStatus Status      `json:"verificationStatus" validate:"omitempty,oneof=PENDING VERIFIED MISMATCH"`
	Token              string      `json:"token"`
}

func (us *UpdateStudent) Clean() {
	us.ID = core.CleanString(us.ID)
	us.First = core.CleanString(us.First)
	us.Last = core.CleanString(us.Last)
	us.Institution = Institution(strings.ToUpper(core.CleanString(string(us.Institution))))
	us.Gender = core.CleanString(us.Gender)
	us.Birth = core.CleanString(us.Birth)
	us.Phone = core.CleanString(us.Phone)
	us.Email = core.CleanString(us.Email, true /* lower */)
	us.VerificationStatus = Status(strings.ToUpper(core.CleanString(string(us.VerificationStatus))))
	us.Token = core.CleanString(us.Token)
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	us.Clean()
	return validate.Struct(us)
}

// merge applies the non-blank fields of us onto s.
func (us UpdateStudent) merge(s *Student) {
	set := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	set(&s.First, us.First)
	set(&s.Last, us.Last)
	set(&s.Gender, us.Gender)
	set(&s.Birth, us.Birth)
	set(&s.Phone, us.Phone)
	if us.Institution != "" {
		s.Institution = us.Institution
	}
	if us.Email != "" {
		s.Email = us.Email
	}
	if us.Password != "" {
		s.Password = us.Password
	}
	if us.VerificationStatus != "" {
		s.VerificationStatus = us.VerificationStatus
	}
}

// Verification is what the identity provider reports when a student signs in.
type Verification struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

func (v *Verification) Validate(validate *validator.Validate) error {
	v.Email = core.CleanString(v.Email, true /* lower */)
	v.Name = core.CleanString(v.Name)
	return validate.Struct(v)
}

// QueryFilter is applied with AND semantics.
// Search does a case-insensitive match on the id, first/last name or assigned email.
type QueryFilter struct {
	Search      string      `query:"search"`
	Institution Institution `query:"institution"`
	// Status matches the resolved verification status (see ResolveStatus).
	Status Status `query:"status"`
	// Deleted selects soft-deleted records; nil means live records only.
	Deleted *bool `query:"deleted"`

	// States defaults to ACTIVE only.
	States []RecordState `query:"-"`
	IDs    []string      `query:"-"`
	// UpdatedBefore only keeps records last updated before this instant.
	UpdatedBefore time.Time `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Institution = Institution(strings.ToUpper(core.CleanString(string(qf.Institution))))
	qf.Status = Status(strings.ToUpper(core.CleanString(string(qf.Status))))
}

// Match applies the filter to s. Repositories without a query engine use it directly.
func (qf QueryFilter) Match(s Student) bool {
	if qf.Deleted == nil {
		if s.Deleted {
			return false
		}
	} else if s.Deleted != *qf.Deleted {
		return false
	}

	states := qf.States
	if len(states) == 0 {
		states = []RecordState{StateActive}
	}
	stateOK := false
	for _, st := range states {
		if s.State() == st {
			stateOK = true
			break
		}
	}
	if !stateOK {
		return false
	}

	if qf.Institution != "" && s.Institution != qf.Institution {
		return false
	}
	if len(qf.IDs) > 0 {
		found := false
		for _, id := range qf.IDs {
			if id == s.StudentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !qf.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(qf.UpdatedBefore) {
		return false
	}
	if qf.Search != "" {
		needle := strings.ToLower(qf.Search)
		hay := strings.ToLower(strings.Join([]string{s.StudentID, s.First, s.Last, s.AssignedAddress()}, " "))
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

// Confirmation is handed to the actor, who must send Code back before ExpiresAt.
type Confirmation struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}
