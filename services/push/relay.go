// Package pushsvc delivers pending notifications to the push provider.
package pushsvc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
)

const (
	sendPath = "/send"
	// notifications failing this many times are left alone
	maxAttempts = 5
)

var pushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "roster",
	Name:      "push_deliveries_total",
	Help:      "Push deliveries attempted by the relay, by outcome.",
}, []string{"outcome"})

// Message is the body posted to the provider.
type Message struct {
	To string `json:"to"`
	notification.Payload
}

type Notifications interface {
	Unsent(ctx context.Context, limit, maxAttempts int) ([]notification.Pending, error)
	MarkSent(ctx context.Context, p notification.Pending) (notification.Pending, error)
	MarkFailed(ctx context.Context, p notification.Pending) (notification.Pending, error)
}

// Relay polls unsent notifications and posts them to the provider.
type Relay struct {
	client        *resty.Client
	notifications Notifications
	batchSize     int
	interval      time.Duration
	enabled       bool
	logger        core.Logger
}

func NewRelay(conf *core.Config, notifications Notifications, logger core.Logger) *Relay {
	client := resty.New().
		SetBaseURL(conf.Push.ProviderURL).
		SetTimeout(10*time.Second).
		SetRetryCount(conf.Push.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if conf.Push.ServerKey != "" {
		client.SetHeader("Authorization", "key="+conf.Push.ServerKey)
	}

	batch := conf.Push.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		client:        client,
		notifications: notifications,
		batchSize:     batch,
		interval:      conf.Push.Interval,
		enabled:       conf.Push.ProviderURL != "",
		logger:        logger,
	}
}

// Enabled reports whether a provider is configured.
func (r *Relay) Enabled() bool { return r.enabled }

// Run relays a batch every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	if !r.enabled || r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.Error(fmt.Sprintf("relaying notifications: %v", err), err)
			} else if sent+failed > 0 {
				r.logger.Info("notifications relayed", map[string]interface{}{"sent": sent, "failed": failed})
			}
		}
	}
}

// RelayOnce delivers one batch of unsent notifications.
// A failed delivery is counted on the notification and retried on a later batch.
func (r *Relay) RelayOnce(ctx context.Context) (sent, failed int, err error) {
	batch, err := r.notifications.Unsent(ctx, r.batchSize, maxAttempts)
	if err != nil {
		return 0, 0, errors.Wrap(err, "fetching unsent notifications")
	}

	for _, p := range batch {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		if derr := r.deliver(ctx, p); derr != nil {
			r.logger.Warn(fmt.Sprintf("delivering notification %s: %v", p.ID, derr), derr)
			pushDeliveries.WithLabelValues("failed").Inc()
			failed++
			if _, err = r.notifications.MarkFailed(ctx, p); err != nil {
				return sent, failed, err
			}
			continue
		}
		pushDeliveries.WithLabelValues("sent").Inc()
		sent++
		if _, err = r.notifications.MarkSent(ctx, p); err != nil {
			return sent, failed, err
		}
	}
	return sent, failed, nil
}

func (r *Relay) deliver(ctx context.Context, p notification.Pending) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(Message{To: p.Token, Payload: notification.BuildPayload(p)}).
		Post(sendPath)
	if err != nil {
		return errors.Wrap(err, "posting to push provider")
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return errors.Errorf("push provider answered %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
