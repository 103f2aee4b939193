package notification

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/ksuid"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPartialBroadcast is returned along with a Result when some notifications could not be queued.
	ErrPartialBroadcast = errors.New("some notifications could not be queued")

	broadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "broadcasts_total",
		Help:      "Broadcasts sent, by audience.",
	}, []string{"audience"})
	notificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "notifications_queued_total",
		Help:      "Pending notifications written by the fan-out.",
	})
	notificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "notifications_failed_total",
		Help:      "Pending notifications the fan-out failed to write.",
	})
)

const defaultBroadcastLimit = 50

type (
	Repository interface {
		CreateBroadcast(ctx context.Context, b Broadcast) (Broadcast, error)
		UpdateBroadcast(ctx context.Context, b Broadcast) (Broadcast, error)
		GetBroadcast(ctx context.Context, id string) (Broadcast, error)
		// QueryBroadcasts returns the latest broadcasts, newest first.
		QueryBroadcasts(ctx context.Context, limit int) ([]Broadcast, error)

		CreatePending(ctx context.Context, p Pending) error
		UpdatePending(ctx context.Context, p Pending) error
		// QueryPending returns matching notifications, oldest first.
		QueryPending(ctx context.Context, filter PendingFilter) ([]Pending, error)

		SaveToken(ctx context.Context, t DeviceToken) (DeviceToken, error)
		GetToken(ctx context.Context, token string) (DeviceToken, error)
		QueryTokens(ctx context.Context, filter TokenFilter) ([]DeviceToken, error)
	}

	// StudentLister resolves an audience into student records.
	StudentLister interface {
		Query(ctx context.Context, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error)
	}

	Alerter interface {
		Raise(ctx context.Context, na alert.NewAlert) (alert.Alert, error)
	}

	Service struct {
		repo     Repository
		students StudentLister
		alerts   Alerter
		validate *validator.Validate
		logger   core.Logger
	}
)

func NewService(repo Repository, students StudentLister, alerts Alerter, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		students: students,
		alerts:   alerts,
		validate: validate,
		logger:   logger,
	}
}

// Broadcast queues nb for every enabled student device whose owner belongs to the audience.
//
// Each notification is written on its own; a failed write does not stop the fan-out. When
// some writes failed, the returned Result lists them and the error is ErrPartialBroadcast.
func (svc *Service) Broadcast(ctx context.Context, nb NewBroadcast, sender string) (Result, error) {
	if err := nb.Validate(svc.validate); err != nil {
		return Result{}, err
	}
	if sender = core.CleanString(sender); sender == "" {
		return Result{}, core.NewValidationError(nil, core.FieldError{Field: "sentBy", Error: "sender is required"})
	}

	recipients, err := svc.recipients(ctx, nb.Audience)
	if err != nil {
		return Result{}, err
	}

	b, err := svc.repo.CreateBroadcast(ctx, Broadcast{
		ID:             ksuid.New().String(),
		Title:          nb.Title,
		Body:           nb.Body,
		Type:           nb.Type,
		TargetAudience: nb.Audience,
		SentBy:         sender,
		SentAt:         core.NowFunc(),
		RecipientCount: len(recipients),
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "creating broadcast")
	}
	broadcastsSent.WithLabelValues(string(b.TargetAudience)).Inc()

	res := svc.fanOut(ctx, b, recipients)
	return svc.settle(ctx, res, len(res.Succeeded), len(res.Failed))
}

// Retry queues the broadcast again for the given tokens, typically Result.FailedTokens.
// Tokens that are no longer enabled, or that already have a notification for the broadcast,
// are skipped.
func (svc *Service) Retry(ctx context.Context, broadcastID string, r Retry) (Result, error) {
	if err := svc.validate.Struct(r); err != nil {
		return Result{}, err
	}
	b, err := svc.repo.GetBroadcast(ctx, core.CleanString(broadcastID))
	if err != nil {
		return Result{}, errors.Wrap(err, "getting broadcast")
	}

	queued, err := svc.repo.QueryPending(ctx, PendingFilter{BroadcastID: b.ID})
	if err != nil {
		return Result{}, errors.Wrap(err, "querying pending notifications")
	}
	done := make(map[string]bool, len(queued))
	for _, p := range queued {
		done[p.Token] = true
	}

	enabled := true
	tokens, err := svc.repo.QueryTokens(ctx, TokenFilter{Role: RoleStudent, Enabled: &enabled, Tokens: r.Tokens})
	if err != nil {
		return Result{}, errors.Wrap(err, "querying device tokens")
	}
	todo := make([]DeviceToken, 0, len(tokens))
	for _, t := range tokens {
		if !done[t.Token] {
			todo = append(todo, t)
		}
	}

	res := svc.fanOut(ctx, b, todo)
	failed := b.FailedCount - len(res.Succeeded)
	if failed < len(res.Failed) {
		failed = len(res.Failed)
	}
	return svc.settle(ctx, res, b.RecipientCount+len(res.Succeeded), failed)
}

// recipients intersects the live students of the audience with the enabled student tokens.
func (svc *Service) recipients(ctx context.Context, audience Audience) ([]DeviceToken, error) {
	students, err := svc.students.Query(ctx, audience.StudentFilter(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "resolving audience")
	}
	ids := make(map[string]bool, len(students))
	for _, s := range students {
		ids[s.StudentID] = true
	}

	enabled := true
	tokens, err := svc.repo.QueryTokens(ctx, TokenFilter{Role: RoleStudent, Enabled: &enabled})
	if err != nil {
		return nil, errors.Wrap(err, "querying device tokens")
	}
	recipients := make([]DeviceToken, 0, len(tokens))
	for _, t := range tokens {
		if ids[t.UserID] {
			recipients = append(recipients, t)
		}
	}
	return recipients, nil
}

func (svc *Service) fanOut(ctx context.Context, b Broadcast, tokens []DeviceToken) Result {
	res := Result{Broadcast: b, Succeeded: make([]string, 0, len(tokens)), Failed: make([]Failure, 0)}
	for _, t := range tokens {
		err := svc.repo.CreatePending(ctx, Pending{
			ID:          ksuid.New().String(),
			BroadcastID: b.ID,
			Token:       t.Token,
			UserID:      t.UserID,
			Title:       b.Title,
			Body:        b.Body,
			Type:        b.Type,
			CreatedAt:   core.NowFunc(),
		})
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("queueing broadcast %s for %s: %v", b.ID, t.UserID, err), err)
			notificationsFailed.Inc()
			res.Failed = append(res.Failed, Failure{Token: t.Token, UserID: t.UserID, Error: err.Error()})
			continue
		}
		notificationsQueued.Inc()
		res.Succeeded = append(res.Succeeded, t.Token)
	}
	return res
}

// settle stores the final counts of the broadcast and reports failures.
// recipients is the number of notifications queued for the broadcast overall.
func (svc *Service) settle(ctx context.Context, res Result, recipients, failed int) (Result, error) {
	b := res.Broadcast
	if b.RecipientCount != recipients || b.FailedCount != failed {
		b.RecipientCount = recipients
		b.FailedCount = failed
		updated, err := svc.repo.UpdateBroadcast(ctx, b)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("updating counts of broadcast %s: %v", b.ID, err), err)
		} else {
			b = updated
		}
		res.Broadcast = b
	}
	if len(res.Failed) == 0 {
		return res, nil
	}

	if svc.alerts != nil {
		_, err := svc.alerts.Raise(ctx, alert.NewAlert{
			Type:  alert.TypeBroadcastPartial,
			Title: "Broadcast partially failed",
			Message: fmt.Sprintf("Broadcast %q (%s) could not be queued for %d of %d devices.",
				b.Title, b.ID, len(res.Failed), len(res.Failed)+len(res.Succeeded)),
			Priority: alert.PriorityHigh,
		})
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("raising partial broadcast alert: %v", err), err)
		}
	}
	return res, ErrPartialBroadcast
}

func (svc *Service) QueryBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultBroadcastLimit
	}
	return svc.repo.QueryBroadcasts(ctx, limit)
}

func (svc *Service) GetBroadcast(ctx context.Context, id string) (Broadcast, error) {
	return svc.repo.GetBroadcast(ctx, core.CleanString(id))
}

// QueryPending lists the notifications queued for a broadcast.
func (svc *Service) QueryPending(ctx context.Context, broadcastID string) ([]Pending, error) {
	if _, err := svc.repo.GetBroadcast(ctx, core.CleanString(broadcastID)); err != nil {
		return nil, errors.Wrap(err, "getting broadcast")
	}
	return svc.repo.QueryPending(ctx, PendingFilter{BroadcastID: core.CleanString(broadcastID)})
}

// Unsent returns up to limit notifications still waiting for delivery,
// skipping those already tried maxAttempts times (when maxAttempts > 0).
func (svc *Service) Unsent(ctx context.Context, limit, maxAttempts int) ([]Pending, error) {
	sent := false
	return svc.repo.QueryPending(ctx, PendingFilter{Sent: &sent, MaxAttempts: maxAttempts, Limit: limit})
}

// MarkSent flags p as delivered.
func (svc *Service) MarkSent(ctx context.Context, p Pending) (Pending, error) {
	now := core.NowFunc()
	p.Sent = true
	p.SentAt = &now
	p.Attempts++
	return p, errors.Wrap(svc.repo.UpdatePending(ctx, p), "marking notification sent")
}

// MarkFailed counts a failed delivery attempt of p.
func (svc *Service) MarkFailed(ctx context.Context, p Pending) (Pending, error) {
	p.Attempts++
	return p, errors.Wrap(svc.repo.UpdatePending(ctx, p), "counting delivery attempt")
}

// RegisterToken stores or refreshes a device token; registering always re-enables it.
func (svc *Service) RegisterToken(ctx context.Context, nt NewDeviceToken) (DeviceToken, error) {
	if err := nt.Validate(svc.validate); err != nil {
		return DeviceToken{}, err
	}
	t, err := svc.repo.SaveToken(ctx, DeviceToken{
		Token:      nt.Token,
		UserID:     nt.UserID,
		Role:       nt.Role,
		Enabled:    true,
		DeviceInfo: nt.DeviceInfo,
		UpdatedAt:  core.NowFunc(),
	})
	return t, errors.Wrap(err, "saving device token")
}

// DisableToken stops broadcasts to a device, e.g. after the student signs out.
func (svc *Service) DisableToken(ctx context.Context, token string) (DeviceToken, error) {
	t, err := svc.repo.GetToken(ctx, core.CleanString(token))
	if err != nil {
		return DeviceToken{}, errors.Wrap(err, "getting device token")
	}
	t.Enabled = false
	t.UpdatedAt = core.NowFunc()
	t, err = svc.repo.SaveToken(ctx, t)
	return t, errors.Wrap(err, "disabling device token")
}
