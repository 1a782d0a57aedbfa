package probe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

// Outcome classifies a single probe. Timeouts are kept distinct from other
// network errors because the decision engine attributes reasons differently.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Result is the ephemeral output of one probe. LatencyMs is the wall-clock
// round trip measured on our side; remote-reported metrics ride along
// opaquely and are never used for health decisions.
type Result struct {
	Provider  string             `json:"provider"`
	Timestamp time.Time          `json:"timestamp"`
	LatencyMs *float64           `json:"latency_ms"`
	Outcome   Outcome            `json:"outcome"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Err       string             `json:"error,omitempty"`
}

// OK reports whether the probe reached the node.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Prober checks one node. Implementations must never block past their
// timeout and must not mutate shared state; the aggregator owns updates.
type Prober interface {
	Probe(ctx context.Context, node *registry.Node) Result
}

// maxBodyBytes bounds how much of a health response we read. Health
// endpoints return a few hundred bytes; anything larger is truncated.
const maxBodyBytes = 64 << 10

// healthBody is the JSON shape health endpoints respond with. Everything is
// optional; an unreachable parse never fails the probe.
type healthBody struct {
	Status  string             `json:"status"`
	Metrics map[string]float64 `json:"metrics"`
}

// HTTPProber probes node health endpoints over HTTP GET.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewHTTPProber creates a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration, log *zap.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		client: &http.Client{
			// The context carries the deadline; the client timeout is a
			// backstop against callers passing an unbounded context.
			Timeout: timeout + time.Second,
		},
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Timeout returns the per-probe deadline.
func (p *HTTPProber) Timeout() time.Duration { return p.timeout }

// Probe issues one GET against the node's health endpoint. The returned
// outcome is ok for any 2xx response, timeout when the deadline elapsed,
// and error for everything else (DNS, refused connections, bad status).
func (p *HTTPProber) Probe(ctx context.Context, node *registry.Node) Result {
	res := Result{
		Provider:  node.Provider,
		Timestamp: p.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Endpoint, nil)
	if err != nil {
		res.Outcome = OutcomeError
		res.Err = err.Error()
		return res
	}
	req.Header.Set("Accept", "application/json")

	start := p.now()
	resp, err := p.client.Do(req)
	elapsed := p.now().Sub(start)

	if err != nil {
		res.Outcome = classifyError(err)
		res.Err = err.Error()
		p.log.Debug("probe failed",
			zap.String("provider", node.Provider),
			zap.String("outcome", string(res.Outcome)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return res
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Outcome = OutcomeError
		res.Err = resp.Status
		return res
	}

	lat := float64(elapsed) / float64(time.Millisecond)
	res.LatencyMs = &lat
	res.Outcome = OutcomeOK

	// Remote metrics are a best-effort passthrough; a malformed body does
	// not demote a reachable node.
	var parsed healthBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		res.Metrics = parsed.Metrics
	} else {
		p.log.Debug("probe body unparseable",
			zap.String("provider", node.Provider),
			zap.Error(err))
	}

	return res
}

func classifyError(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeError
}
