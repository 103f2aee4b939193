package alert

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/ksuid"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

var (
	ErrNotFound = errors.New("alert not found")

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "alerts_raised_total",
		Help:      "Alerts raised, by priority.",
	}, []string{"priority"})
)

const defaultActivityLimit = 100

type Repository interface {
	CreateAlert(ctx context.Context, a Alert) (Alert, error)
	// QueryAlerts returns matching alerts, newest first.
	QueryAlerts(ctx context.Context, filter QueryFilter) ([]Alert, error)
	// MarkAlertsRead returns how many of ids exist.
	MarkAlertsRead(ctx context.Context, ids ...string) (int64, error)
	MarkAllAlertsRead(ctx context.Context) (int64, error)
	CreateActivity(ctx context.Context, a Activity) error
	// QueryActivity returns the latest events, newest first.
	QueryActivity(ctx context.Context, limit int) ([]Activity, error)
}

type Service struct {
	repo    Repository
	mailSvc core.EmailService
	conf    *core.Config
	logger  core.Logger
}

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		logger:  logger,
	}
}

// Raise stores a new unread alert. High priority alerts are also mailed to the administrators.
func (svc *Service) Raise(ctx context.Context, na NewAlert) (Alert, error) {
	if na.Priority == "" {
		na.Priority = PriorityLow
	}
	a, err := svc.repo.CreateAlert(ctx, Alert{
		ID:        ksuid.New().String(),
		Type:      na.Type,
		Title:     na.Title,
		Message:   na.Message,
		Priority:  na.Priority,
		Timestamp: core.NowFunc(),
	})
	if err != nil {
		return Alert{}, errors.Wrap(err, "creating alert")
	}
	alertsRaised.WithLabelValues(string(a.Priority)).Inc()

	if a.Priority == PriorityHigh && len(svc.conf.AdminEmails) > 0 {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           svc.conf.AdminEmails,
			Subject:      a.Title,
			TemplateName: "alert",
			TemplateData: a,
		})
	}
	return a, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Alert, error) {
	filter.Clean()
	return svc.repo.QueryAlerts(ctx, filter)
}

// MarkRead flags the given alerts as read. Fails with ErrNotFound when any id is unknown;
// the known ones are still marked.
func (svc *Service) MarkRead(ctx context.Context, ids ...string) error {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = core.CleanString(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return nil
	}

	n, err := svc.repo.MarkAlertsRead(ctx, uniq...)
	if err != nil {
		return errors.Wrap(err, "marking alerts read")
	}
	if n < int64(len(uniq)) {
		return ErrNotFound
	}
	return nil
}

func (svc *Service) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := svc.repo.MarkAllAlertsRead(ctx)
	return n, errors.Wrap(err, "marking all alerts read")
}

// RecordActivity appends an event to the activity feed.
func (svc *Service) RecordActivity(ctx context.Context, action, actor, target, detail string) error {
	err := svc.repo.CreateActivity(ctx, Activity{
		ID:        ksuid.New().String(),
		Action:    action,
		Actor:     actor,
		Target:    target,
		Detail:    detail,
		Timestamp: core.NowFunc(),
	})
	return errors.Wrap(err, "recording activity")
}

func (svc *Service) QueryActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultActivityLimit
	}
	return svc.repo.QueryActivity(ctx, limit)
}
