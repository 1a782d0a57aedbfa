// Package notify forwards mesh events to an operator webhook. The event log
// is the system of record; notifications are best-effort and rate-limited so
// a flapping mesh cannot flood the receiving channel.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/events"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/metrics"
)

// Notifier pushes one event to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, event events.Event) error
}

// Attach subscribes a notifier to the event types operators act on:
// failover lifecycle and alerts. Routine node/mesh updates stay off the
// channel; they live in metrics and the event log.
func Attach(bus events.Bus, n Notifier) error {
	for _, pattern := range []string{"failover.*", "alert.*"} {
		if err := bus.Subscribe(pattern, n.Notify); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
	}
	return nil
}

// Nop is the notifier used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, event events.Event) error { return nil }

// Notification is the JSON body delivered to the webhook endpoint.
type Notification struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Provider  string      `json:"provider,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Attempt   int         `json:"attempt"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Config tunes the webhook notifier.
type Config struct {
	URL    string
	Secret string
	// Timeout bounds each delivery attempt. Default 10s.
	Timeout time.Duration
	// EventsPerMinute is the sustained delivery budget; events over it are
	// dropped, not queued. Default 30.
	EventsPerMinute int
	// Burst allows short spikes above the sustained rate. Default 10.
	Burst int
	// MaxRetries is the attempt count per event. Default 3.
	MaxRetries int
	// RetryInterval is the pause between attempts. Default 1s.
	RetryInterval time.Duration
}

// WebhookNotifier POSTs signed notifications with bounded retries.
type WebhookNotifier struct {
	url     string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Metrics

	maxRetries    int
	retryInterval time.Duration
}

// NewWebhookNotifier builds a notifier for the given endpoint.
func NewWebhookNotifier(cfg Config, log *zap.Logger) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.EventsPerMinute <= 0 {
		cfg.EventsPerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &WebhookNotifier{
		url:           cfg.URL,
		secret:        cfg.Secret,
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(rate.Limit(float64(cfg.EventsPerMinute)/60.0), cfg.Burst),
		log:           log,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
	}
}

// RegisterMetrics attaches the Prometheus collectors.
func (n *WebhookNotifier) RegisterMetrics(m *metrics.Metrics) { n.metrics = m }

// Notify delivers one event, retrying failures. Events over the rate budget
// are dropped and counted; dropping is not an error.
func (n *WebhookNotifier) Notify(ctx context.Context, event events.Event) error {
	if !n.limiter.Allow() {
		n.log.Warn("notification dropped by rate limit",
			zap.String("type", string(event.Type)))
		n.count("dropped")
		return nil
	}

	// The publisher's context may belong to an HTTP request that finishes
	// before delivery does; attempts run on their own deadline.
	budget := time.Duration(n.maxRetries) * (n.client.Timeout + n.retryInterval)
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	notification := Notification{
		ID:        event.ID,
		Type:      string(event.Type),
		Provider:  event.Provider,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxRetries; attempt++ {
		notification.Attempt = attempt

		statusCode, err := n.send(ctx, &notification)
		if err == nil && statusCode >= 200 && statusCode < 300 {
			n.count("sent")
			n.log.Debug("notification delivered",
				zap.String("type", notification.Type),
				zap.Int("attempt", attempt))
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", statusCode)
		}

		if attempt < n.maxRetries {
			select {
			case <-ctx.Done():
				n.count("failed")
				return fmt.Errorf("notify %s: %w", notification.Type, ctx.Err())
			case <-time.After(n.retryInterval):
			}
		}
	}

	n.count("failed")
	n.log.Error("notification delivery failed",
		zap.String("type", notification.Type),
		zap.Int("attempts", n.maxRetries),
		zap.Error(lastErr))
	return fmt.Errorf("notify %s: %w", notification.Type, lastErr)
}

func (n *WebhookNotifier) send(ctx context.Context, notification *Notification) (int, error) {
	body, err := json.Marshal(notification)
	if err != nil {
		return 0, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "meshmon-notify/1.0")
	req.Header.Set("X-Event-Type", notification.Type)
	req.Header.Set("X-Event-ID", notification.ID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", notification.Attempt))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}

func (n *WebhookNotifier) count(status string) {
	if n.metrics != nil {
		n.metrics.IncNotification(status)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
