// Package heartbeat keeps a gated feature running only while the license
// server keeps re-affirming the session.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/client/api"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// ErrExpired is reported when the last known expiry passes without a
// successful re-validation.
var ErrExpired = errors.New("license expired while the server was unreachable")

// Checker calls the server's re-validation endpoint.
type Checker interface {
	SubCheck(ctx context.Context, orderID string) (string, error)
}

// Decoder verifies a session token with the client's session key.
type Decoder interface {
	Decode(token string) (ports.SessionClaims, error)
}

// Gate is the licensed feature. Its methods run on the heartbeat goroutine
// and must not call Stop.
type Gate interface {
	Refresh(status Status)
	ForceStop(reason error)
}

// Status is the advisory local view of the license, reconciled on every
// successful heartbeat.
type Status struct {
	OrderID    string
	ExpireTime *time.Time
	Remaining  time.Duration
	Reminder   bool
	CheckedAt  time.Time
}

type Config struct {
	MaxInterval   time.Duration
	RetryInterval time.Duration
	MaxFailures   int
	MinDelay      time.Duration
	// ExpiryMargin is subtracted from the remaining time so the last check
	// lands before expiry.
	ExpiryMargin time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxInterval <= 0 {
		c.MaxInterval = 15 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Second
	}
	if c.ExpiryMargin <= 0 {
		c.ExpiryMargin = time.Second
	}
	return c
}

// NextDelay schedules the next check: the max interval, shortened so it
// fires before expiry, never below the floor.
func (c Config) NextDelay(status Status) time.Duration {
	c = c.withDefaults()
	if status.ExpireTime == nil {
		return c.MaxInterval
	}
	d := min(c.MaxInterval, status.Remaining-c.ExpiryMargin)
	return max(d, c.MinDelay)
}

// RetryDelay schedules the attempt after a transient failure: the retry
// interval, shortened so it fires before the last known expiry, never below
// the floor.
func (c Config) RetryDelay(status Status, now time.Time) time.Duration {
	c = c.withDefaults()
	if status.ExpireTime == nil {
		return c.RetryInterval
	}
	left := status.Remaining - now.Sub(status.CheckedAt)
	d := min(c.RetryInterval, left-c.ExpiryMargin)
	return max(d, c.MinDelay)
}

type Heartbeat struct {
	checker Checker
	decoder Decoder
	gate    Gate
	cfg     Config
	logger  *slog.Logger
	nowFn   func() time.Time

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	status   Status
	failures int
}

func New(checker Checker, decoder Decoder, gate Gate, cfg Config, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	close(closed)
	return &Heartbeat{
		checker: checker,
		decoder: decoder,
		gate:    gate,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
		done:    closed,
	}
}

// Start stops any running loop and begins a new one that checks immediately.
func (h *Heartbeat) Start(ctx context.Context, orderID string) {
	h.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.failures = 0
	h.status = Status{OrderID: orderID}
	go h.run(loopCtx, h.gen, orderID, h.done)
}

// Stop halts the loop and waits for it to exit. Results still in flight are
// discarded.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	h.gen++
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	done := h.done
	h.mu.Unlock()
	<-done
}

// Done is closed when the current loop exits.
func (h *Heartbeat) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Heartbeat) run(ctx context.Context, gen uint64, orderID string, done chan struct{}) {
	defer close(done)
	var delay time.Duration
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, keepGoing := h.tick(ctx, gen, orderID)
		if !keepGoing {
			return
		}
		delay = next
	}
}

func (h *Heartbeat) tick(ctx context.Context, gen uint64, orderID string) (time.Duration, bool) {
	token, err := h.checker.SubCheck(ctx, orderID)
	if ctx.Err() != nil {
		return 0, false
	}

	var claims ports.SessionClaims
	if err == nil {
		claims, err = h.decoder.Decode(token)
		if err != nil {
			err = fmt.Errorf("decode heartbeat token: %w", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return 0, false
	}
	now := h.nowFn()

	switch {
	case err == nil:
		h.failures = 0
		h.status = statusFrom(orderID, claims, now)
		h.gate.Refresh(h.status)
		delay := h.cfg.NextDelay(h.status)
		h.log(ctx, "heartbeat_check", "success", nil, "next_check_in", delay.String(), "reminder", h.status.Reminder)
		return delay, true
	case api.IsRejection(err) || token != "":
		// Server said no, or answered with a token this session cannot verify.
		h.forceStopLocked(ctx, err)
		return 0, false
	}

	h.failures++
	if h.failures >= h.cfg.MaxFailures {
		h.forceStopLocked(ctx, fmt.Errorf("%d consecutive heartbeat failures: %w", h.failures, err))
		return 0, false
	}
	if exp := h.status.ExpireTime; exp != nil && !now.Before(*exp) {
		h.forceStopLocked(ctx, fmt.Errorf("%w: %v", ErrExpired, err))
		return 0, false
	}
	delay := h.cfg.RetryDelay(h.status, now)
	h.log(ctx, "heartbeat_check", "retry", err, "failures", h.failures, "next_check_in", delay.String())
	return delay, true
}

func (h *Heartbeat) forceStopLocked(ctx context.Context, reason error) {
	h.gen++
	h.log(ctx, "heartbeat_check", "force_stop", reason)
	h.gate.ForceStop(reason)
}

func (h *Heartbeat) log(ctx context.Context, operation, outcome string, err error, attrs ...any) {
	args := append([]any{
		"module", "client.heartbeat",
		"layer", "client",
		"operation", operation,
		"outcome", outcome,
		"order_id", h.status.OrderID,
	}, attrs...)
	if err != nil {
		h.logger.WarnContext(ctx, "heartbeat check failed", append(args, "error", err)...)
		return
	}
	h.logger.InfoContext(ctx, "heartbeat check", args...)
}

func statusFrom(orderID string, claims ports.SessionClaims, now time.Time) Status {
	status := Status{OrderID: orderID, ExpireTime: claims.ExpireTime, CheckedAt: now}
	switch {
	case claims.RestTime != nil:
		status.Remaining = time.Duration(*claims.RestTime) * time.Second
	case claims.ExpireTime != nil:
		status.Remaining = max(claims.ExpireTime.Sub(now), 0)
	}
	if claims.Reminder != nil {
		status.Reminder = *claims.Reminder
	}
	return status
}
