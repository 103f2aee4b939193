package student

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
)

var (
	ErrNotFound = errors.New("student not found")
	ErrIDExists = errors.New("a student with this id already exists")
)

type (
	Repository interface {
		// CreateStudent fails with ErrIDExists when the id is taken, deleted records included.
		CreateStudent(ctx context.Context, s Student) (Student, error)
		// GetStudent returns the stored record whatever its state.
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Student, error)
		// UpdateStudent replaces the stored record.
		UpdateStudent(ctx context.Context, s Student) (Student, error)
		// DeleteStudents removes records for good.
		DeleteStudents(ctx context.Context, ids ...string) error
	}

	// Transactor is implemented by repositories able to run several writes atomically.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(repo Repository) error) error
	}

	// Feed receives the alerts and activity events produced by roster mutations.
	Feed interface {
		Raise(ctx context.Context, na alert.NewAlert) (alert.Alert, error)
		RecordActivity(ctx context.Context, action, actor, target, detail string) error
	}

	Service struct {
		repo     Repository
		tokens   ConfirmationStore
		roster   *Roster
		feed     Feed
		validate *validator.Validate
		conf     *core.Config
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	tokens ConfirmationStore,
	roster *Roster,
	feed Feed,
	validate *validator.Validate,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		roster:   roster,
		feed:     feed,
		validate: validate,
		conf:     conf,
		logger:   logger,
	}
}

// Roster returns the static fallback dataset.
func (svc *Service) Roster() *Roster { return svc.roster }

func (svc *Service) activity(ctx context.Context, action, actor, target, detail string) {
	if svc.feed == nil {
		return
	}
	if err := svc.feed.RecordActivity(ctx, action, actor, target, detail); err != nil {
		svc.logger.Warn(fmt.Sprintf("recording %s activity for %s: %v", action, target, err), err)
	}
}

func (svc *Service) raise(ctx context.Context, na alert.NewAlert) {
	if svc.feed == nil {
		return
	}
	if _, err := svc.feed.Raise(ctx, na); err != nil {
		svc.logger.Warn(fmt.Sprintf("raising %s alert: %v", na.Type, err), err)
	}
}

func checkActor(actor string, args ...vala.Checker) error {
	checks := append([]vala.Checker{vala.StringNotEmpty(actor, "actor")}, args...)
	if err := vala.BeginValidation().Validate(checks...).Check(); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

// Create writes a new PENDING record. id, first, last and email are required.
func (svc *Service) Create(ctx context.Context, ns NewStudent, actor string) (Student, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Student{}, err
	}

	now := core.NowFunc()
	s := Student{
		StudentID:          ns.ID,
		First:              ns.First,
		Last:               ns.Last,
		Institution:        ns.Institution,
		Gender:             ns.Gender,
		Birth:              ns.Birth,
		Phone:              ns.Phone,
		Email:              ns.Email,
		Password:           ns.Password,
		VerificationStatus: StatusPending,
		LoginCount:         0,
		CreatedAt:          now,
		UpdatedAt:          now,
		RecordState:        StateActive,
	}
	s.log(ActionCreated, actor, "", now)

	created, err := svc.repo.CreateStudent(ctx, s)
	if err != nil {
		if errors.Cause(err) == ErrIDExists {
			return Student{}, core.NewValidationError(err, core.FieldError{Field: "id", Error: err.Error()})
		}
		return Student{}, errors.Wrap(err, "creating student")
	}
	svc.activity(ctx, ActionCreated, actor, created.StudentID, created.FullName())
	return created, nil
}

// Get returns the stored record, or the static roster entry when nothing is stored under id.
func (svc *Service) Get(ctx context.Context, id string) (Student, error) {
	id = core.CleanString(id)
	s, err := svc.repo.GetStudent(ctx, id)
	if err == nil {
		return s, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Student{}, errors.Wrap(err, "getting student")
	}
	if fb, ok := svc.roster.Find(id); ok {
		return fb, nil
	}
	return Student{}, ErrNotFound
}

// load returns the stored record for id, else a copy of its static roster entry ready to be
// stored. stored reports which one it is.
func (svc *Service) load(ctx context.Context, id string) (Student, bool, error) {
	s, err := svc.repo.GetStudent(ctx, id)
	if err == nil {
		return s, true, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Student{}, false, errors.Wrap(err, "getting student")
	}
	fb, ok := svc.roster.Find(id)
	if !ok {
		return Student{}, false, ErrNotFound
	}
	fb.CreatedAt = core.NowFunc()
	fb.RecordState = StateActive
	return fb, false, nil
}

func (svc *Service) save(ctx context.Context, s Student, stored bool) (Student, error) {
	if stored {
		return svc.repo.UpdateStudent(ctx, s)
	}
	return svc.repo.CreateStudent(ctx, s)
}

// Query lists stored records. filter.Status is matched against the resolved status.
func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	filter.Clean()
	students, err := svc.repo.QueryStudents(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	if filter.Status == "" {
		return students, nil
	}
	matched := students[:0]
	for _, s := range students {
		if ResolveStatus(s) == filter.Status {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// Update merges us into the record; a roster-only record gets stored.
// An id change is redirected into Rekey.
func (svc *Service) Update(ctx context.Context, id string, us UpdateStudent, actor string) (Student, error) {
	if err := us.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	id = core.CleanString(id)
	if us.ID != "" && us.ID != id {
		return svc.Rekey(ctx, id, us.ID, us, us.Token, actor)
	}

	s, stored, err := svc.load(ctx, id)
	if err != nil {
		return Student{}, err
	}
	now := core.NowFunc()
	us.merge(&s)
	s.UpdatedAt = now
	s.log(ActionUpdated, actor, "", now)

	updated, err := svc.save(ctx, s, stored)
	if err != nil {
		return Student{}, errors.Wrap(err, "updating student")
	}
	svc.activity(ctx, ActionUpdated, actor, id, "")
	return updated, nil
}

// IssueDeletionToken hands actor the code confirming the deletion of id.
func (svc *Service) IssueDeletionToken(ctx context.Context, id, actor string) (Confirmation, error) {
	if err := checkActor(actor, vala.StringNotEmpty(id, "id")); err != nil {
		return Confirmation{}, err
	}
	if _, err := svc.repo.GetStudent(ctx, id); err != nil {
		return Confirmation{}, errors.Wrap(err, "getting student")
	}
	c, err := issue(ctx, svc.tokens, deletionSeed(id, actor), svc.conf.ConfirmationTTL)
	return c, errors.Wrap(err, "issuing deletion token")
}

// Delete soft-deletes id once actor confirmed with the code from IssueDeletionToken.
func (svc *Service) Delete(ctx context.Context, id, token, actor string) (Student, error) {
	if err := checkActor(actor, vala.StringNotEmpty(id, "id")); err != nil {
		return Student{}, err
	}
	if err := consume(ctx, svc.tokens, deletionSeed(id, actor), token); err != nil {
		return Student{}, errors.Wrap(err, "confirming deletion")
	}

	s, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, errors.Wrap(err, "getting student")
	}
	now := core.NowFunc()
	s.Deleted = true
	s.UpdatedAt = now
	s.log(ActionDeleted, actor, "", now)

	deleted, err := svc.repo.UpdateStudent(ctx, s)
	if err != nil {
		return Student{}, errors.Wrap(err, "deleting student")
	}
	svc.activity(ctx, ActionDeleted, actor, id, s.FullName())
	svc.raise(ctx, alert.NewAlert{
		Type:     alert.TypeStudentDeleted,
		Title:    "Student deleted",
		Message:  fmt.Sprintf("%s (%s) was deleted by %s.", s.FullName(), id, actor),
		Priority: alert.PriorityLow,
	})
	return deleted, nil
}

// Restore clears the deleted flag of id.
func (svc *Service) Restore(ctx context.Context, id, actor string) (Student, error) {
	s, err := svc.repo.GetStudent(ctx, core.CleanString(id))
	if err != nil {
		return Student{}, errors.Wrap(err, "getting student")
	}
	now := core.NowFunc()
	s.Deleted = false
	s.UpdatedAt = now
	s.log(ActionRestored, actor, "", now)

	restored, err := svc.repo.UpdateStudent(ctx, s)
	if err != nil {
		return Student{}, errors.Wrap(err, "restoring student")
	}
	svc.activity(ctx, ActionRestored, actor, s.StudentID, s.FullName())
	return restored, nil
}

// checkIDFree fails with ErrIDExists when id is stored (deleted records included) or served
// by the static roster.
func (svc *Service) checkIDFree(ctx context.Context, id string) error {
	_, err := svc.repo.GetStudent(ctx, id)
	switch errors.Cause(err) {
	case nil:
		return ErrIDExists
	case ErrNotFound:
		if _, ok := svc.roster.Find(id); ok {
			return ErrIDExists
		}
		return nil
	default:
		return errors.Wrap(err, "checking new id")
	}
}

// IssueRekeyToken hands actor the code confirming the change of oldID into newID.
func (svc *Service) IssueRekeyToken(ctx context.Context, oldID, newID, actor string) (Confirmation, error) {
	oldID, newID = core.CleanString(oldID), core.CleanString(newID)
	if err := checkActor(actor, vala.StringNotEmpty(oldID, "oldId"), vala.StringNotEmpty(newID, "newId")); err != nil {
		return Confirmation{}, err
	}
	if err := svc.validate.Var(newID, "max=32,studentid"); err != nil {
		return Confirmation{}, core.NewValidationError(err, core.FieldError{Field: "id", Error: "invalid student id"})
	}
	if err := svc.checkIDFree(ctx, newID); err != nil {
		return Confirmation{}, err
	}
	c, err := issue(ctx, svc.tokens, rekeySeed(oldID, newID, actor), svc.conf.ConfirmationTTL)
	return c, errors.Wrap(err, "issuing rekey token")
}

// Rekey moves the record stored under oldID to newID, carrying every field forward.
//
// The new record is written as MIGRATING, the old stored record (if any) is removed, then the
// new record is flipped to ACTIVE. A record only known from the static roster is not removed,
// it simply becomes shadowed. When the repository is a Transactor the three writes are atomic;
// otherwise a failure after the first write leaves both ids present, and ReconcileMigrations
// finishes the job later.
func (svc *Service) Rekey(ctx context.Context, oldID, newID string, data UpdateStudent, token, actor string) (Student, error) {
	oldID, newID = core.CleanString(oldID), core.CleanString(newID)
	if err := checkActor(actor, vala.StringNotEmpty(oldID, "oldId"), vala.StringNotEmpty(newID, "newId")); err != nil {
		return Student{}, err
	}
	// a taken id must not burn the code
	if err := svc.checkIDFree(ctx, newID); err != nil {
		return Student{}, err
	}
	if err := consume(ctx, svc.tokens, rekeySeed(oldID, newID, actor), token); err != nil {
		return Student{}, errors.Wrap(err, "confirming rekey")
	}

	base, stored, err := svc.rekeySource(ctx, oldID, data)
	if err != nil {
		return Student{}, err
	}

	now := core.NowFunc()
	moved := base
	data.merge(&moved)
	moved.StudentID = newID
	moved.IDChangedFrom = oldID
	moved.IDChangedAt = &now
	moved.IDChangedBy = actor
	moved.RecordState = StateMigrating
	moved.UpdatedAt = now
	if moved.CreatedAt.IsZero() {
		moved.CreatedAt = now
	}
	if moved.VerificationStatus == "" {
		moved.VerificationStatus = StatusPending
	}
	moved.log(ActionRekeyed, actor, oldID+" -> "+newID, now)

	run := func(repo Repository) error {
		created, err := repo.CreateStudent(ctx, moved)
		if err != nil {
			return errors.Wrap(err, "creating re-keyed student")
		}
		if stored {
			if err = repo.DeleteStudents(ctx, oldID); err != nil {
				return errors.Wrap(err, "deleting previous id")
			}
		}
		created.RecordState = StateActive
		if moved, err = repo.UpdateStudent(ctx, created); err != nil {
			return errors.Wrap(err, "activating re-keyed student")
		}
		return nil
	}

	if tx, ok := svc.repo.(Transactor); ok {
		err = tx.WithinTx(ctx, run)
	} else {
		err = run(svc.repo)
	}
	if err != nil {
		if errors.Cause(err) == ErrIDExists {
			return Student{}, ErrIDExists // lost the race against a concurrent create
		}
		svc.raise(ctx, alert.NewAlert{
			Type:     alert.TypeRekeyIncomplete,
			Title:    "Student id change incomplete",
			Message:  fmt.Sprintf("Changing %s into %s failed: %v. The reconciliation job will retry.", oldID, newID, err),
			Priority: alert.PriorityMedium,
		})
		return Student{}, err
	}
	svc.activity(ctx, ActionRekeyed, actor, newID, "from "+oldID)
	return moved, nil
}

// rekeySource finds the record to move: the stored one, else the static roster entry, else
// one synthesized from the form data. stored reports whether a stored record exists.
func (svc *Service) rekeySource(ctx context.Context, oldID string, data UpdateStudent) (Student, bool, error) {
	s, err := svc.repo.GetStudent(ctx, oldID)
	if err == nil {
		return s, true, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Student{}, false, errors.Wrap(err, "getting student")
	}
	if fb, ok := svc.roster.Find(oldID); ok {
		return fb, false, nil
	}
	if data.First == "" || data.Last == "" || data.Email == "" {
		return Student{}, false, ErrNotFound
	}
	return Student{StudentID: oldID, VerificationStatus: StatusPending}, false, nil
}

// ReconcileMigrations finishes re-keys left MIGRATING for longer than grace:
// removes the previous id if it is still stored, then flips the record to ACTIVE.
func (svc *Service) ReconcileMigrations(ctx context.Context, grace time.Duration) (int, error) {
	orphans, err := svc.repo.QueryStudents(ctx, QueryFilter{
		Deleted:       nil,
		States:        []RecordState{StateMigrating},
		UpdatedBefore: core.NowFunc().Add(-grace),
	}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying migrating students")
	}

	var done int
	for _, s := range orphans {
		if s.IDChangedFrom != "" && s.IDChangedFrom != s.StudentID {
			if _, err = svc.repo.GetStudent(ctx, s.IDChangedFrom); err == nil {
				if err = svc.repo.DeleteStudents(ctx, s.IDChangedFrom); err != nil {
					return done, errors.Wrapf(err, "deleting previous id %s", s.IDChangedFrom)
				}
			} else if errors.Cause(err) != ErrNotFound {
				return done, errors.Wrapf(err, "getting previous id %s", s.IDChangedFrom)
			}
		}
		now := core.NowFunc()
		s.RecordState = StateActive
		s.UpdatedAt = now
		s.log(ActionReconciled, "", "from "+s.IDChangedFrom, now)
		if _, err = svc.repo.UpdateStudent(ctx, s); err != nil {
			return done, errors.Wrapf(err, "activating %s", s.StudentID)
		}
		svc.activity(ctx, ActionReconciled, "", s.StudentID, "from "+s.IDChangedFrom)
		done++
	}
	return done, nil
}

// RecordVerification stores the outcome of a student's sign-in with the identity provider.
// A record only known from the static roster is stored on its first sign-in.
func (svc *Service) RecordVerification(ctx context.Context, id string, v Verification) (Student, error) {
	if err := v.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	id = core.CleanString(id)

	s, stored, err := svc.load(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if !s.IsLive() {
		return Student{}, ErrNotFound
	}

	now := core.NowFunc()
	s.VerifiedWithEmail = v.Email
	s.VerifiedWithName = v.Name
	s.VerifiedAt = &now
	s.LoginCount++
	s.UpdatedAt = now
	if NormalizeEmail(s.AssignedAddress()) == NormalizeEmail(v.Email) {
		s.VerificationStatus = StatusVerified
		s.log(ActionVerified, s.StudentID, v.Email, now)
	} else {
		s.VerificationStatus = StatusMismatch
		s.log(ActionMismatch, s.StudentID, v.Email, now)
	}

	if s, err = svc.save(ctx, s, stored); err != nil {
		return Student{}, errors.Wrap(err, "saving verification")
	}

	if s.VerificationStatus == StatusMismatch {
		svc.activity(ctx, ActionMismatch, s.StudentID, s.StudentID, v.Email)
		svc.raise(ctx, alert.NewAlert{
			Type:  alert.TypeVerificationMismatch,
			Title: "Verification mismatch",
			Message: fmt.Sprintf("%s (%s) signed in with %s but was assigned %s.",
				s.FullName(), s.StudentID, v.Email, s.AssignedAddress()),
			Priority: alert.PriorityMedium,
		})
	} else {
		svc.activity(ctx, ActionVerified, s.StudentID, s.StudentID, v.Email)
	}
	return s, nil
}

// Seed stores every static roster entry that has no stored record yet.
func (svc *Service) Seed(ctx context.Context, actor string) (int, error) {
	var seeded int
	for _, entry := range svc.roster.Students {
		_, err := svc.repo.GetStudent(ctx, entry.StudentID)
		if err == nil {
			continue
		}
		if errors.Cause(err) != ErrNotFound {
			return seeded, errors.Wrapf(err, "getting %s", entry.StudentID)
		}

		now := core.NowFunc()
		s := entry
		s.VerificationStatus = StatusPending
		s.CreatedAt = now
		s.UpdatedAt = now
		s.RecordState = StateActive
		s.ActivityLog = nil
		s.log(ActionSeeded, actor, "", now)
		if _, err = svc.repo.CreateStudent(ctx, s); err != nil {
			return seeded, errors.Wrapf(err, "seeding %s", entry.StudentID)
		}
		seeded++
	}
	if seeded > 0 {
		svc.activity(ctx, ActionSeeded, actor, "", fmt.Sprintf("%d students", seeded))
	}
	return seeded, nil
}

// Optimize hard-deletes stored records that add nothing over their static roster entry:
// same descriptive fields, never verified, never signed in, never re-keyed or deleted.
// It returns the removed ids, sorted.
func (svc *Service) Optimize(ctx context.Context) ([]string, error) {
	if svc.roster.Len() == 0 {
		return nil, nil
	}
	ids := make([]string, 0, svc.roster.Len())
	for _, s := range svc.roster.Students {
		ids = append(ids, s.StudentID)
	}
	stored, err := svc.repo.QueryStudents(ctx, QueryFilter{IDs: ids}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}

	redundant := make([]string, 0)
	for _, s := range stored {
		if entry, ok := svc.roster.Find(s.StudentID); ok && redundantWith(s, entry) {
			redundant = append(redundant, s.StudentID)
		}
	}
	if len(redundant) == 0 {
		return redundant, nil
	}
	sort.Strings(redundant)
	if err = svc.repo.DeleteStudents(ctx, redundant...); err != nil {
		return nil, errors.Wrap(err, "deleting redundant students")
	}
	return redundant, nil
}

func redundantWith(s, entry Student) bool {
	if s.Deleted || s.State() != StateActive || s.LoginCount > 0 || s.IDChangedFrom != "" {
		return false
	}
	if s.UsedAddress() != "" || (s.VerificationStatus != "" && s.VerificationStatus != StatusPending) {
		return false
	}
	return s.First == entry.First &&
		s.Last == entry.Last &&
		s.Institution == entry.Institution &&
		s.Gender == entry.Gender &&
		s.Birth == entry.Birth &&
		s.Phone == entry.Phone &&
		s.AssignedAddress() == entry.AssignedAddress() &&
		s.Credential() == entry.Credential()
}
