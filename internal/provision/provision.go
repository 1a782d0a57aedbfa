// Package provision invokes the external deployment capability when the
// mesh runs out of failover candidates. Provisioning itself (VMs, keys,
// firewalls) happens elsewhere; this core only requests it and reports the
// outcome.
package provision

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
)

// Request asks the deployment system for a replacement node.
type Request struct {
	FromProvider string    `json:"from_provider,omitempty"`
	Reason       string    `json:"reason"`
	Detail       string    `json:"detail,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Provisioner is the opaque deployment capability.
type Provisioner interface {
	RequestReplacement(ctx context.Context, req Request) error
}

// Nop is the Provisioner used when auto-provisioning is not configured.
type Nop struct{}

func (Nop) RequestReplacement(ctx context.Context, req Request) error { return nil }

// Webhook POSTs replacement requests to the deployment system, signed with
// HMAC-SHA256 when a secret is configured.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	log    *zap.Logger
}

// NewWebhook creates a webhook provisioner. Timeout at or below zero
// defaults to 30s.
func NewWebhook(url, secret string, timeout time.Duration, log *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (w *Webhook) RequestReplacement(ctx context.Context, r Request) error {
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "meshmon-provision/1.0")
	if w.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("provision request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provision endpoint returned status %d", resp.StatusCode)
	}

	w.log.Info("replacement node requested",
		zap.String("from_provider", r.FromProvider),
		zap.String("reason", r.Reason))
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
