// Package breaker gives every delivery destination its own circuit
// breaker, so a failing agent stops receiving new traffic without
// affecting deliveries to healthy ones. It wraps sony/gobreaker the way
// kubernaut's notification integration suite wires
// circuitbreaker.NewManager: one named breaker per destination, opened
// after consecutive failures, state changes fed to metrics.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tenzoki/rfpflow/internal/coreerr"
)

// State mirrors gobreaker's three states: closed, open, half_open.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config tunes the breaker created for each destination.
type Config struct {
	// ConsecutiveFailures is the failure count that trips the breaker open.
	ConsecutiveFailures uint32
	// OpenTimeout is the cooldown before the breaker tries half-open, for
	// the first trip. Each subsequent trip caused by a failed half-open
	// probe doubles the cooldown, capped at CooldownCap.
	OpenTimeout time.Duration
	// CooldownCap bounds the exponential growth of OpenTimeout across
	// repeated failed probes.
	CooldownCap time.Duration
	// HalfOpenMaxRequests bounds probe traffic while half-open.
	HalfOpenMaxRequests uint32
	// OnStateChange is notified of every transition, keyed by destination.
	OnStateChange func(destination string, from, to State)
}

// DefaultConfig matches its defaults: trip after 5 consecutive
// failures, 5s initial cooldown capped at 60s, one probe request while
// half-open.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		OpenTimeout:         5 * time.Second,
		CooldownCap:         60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// destBreaker pairs a gobreaker.CircuitBreaker with the extended-cooldown
// bookkeeping gobreaker itself has no hook for: a fixed-Timeout breaker
// can't grow its own cooldown after a failed probe, so nextProbeAt
// overrides gobreaker's internal expiry until it elapses.
type destBreaker struct {
	cb          *gobreaker.CircuitBreaker
	reopens     int
	nextProbeAt time.Time
}

// Manager lazily creates and holds one named breaker per destination.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*destBreaker
}

// NewManager builds a Manager using cfg for every destination it creates.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*destBreaker)}
}

// cooldownFor returns the cooldown applied after reopens consecutive
// failed half-open probes: OpenTimeout doubled once per reopen, capped.
func (m *Manager) cooldownFor(reopens int) time.Duration {
	cooldown := m.cfg.OpenTimeout
	for i := 0; i < reopens; i++ {
		cooldown *= 2
		if m.cfg.CooldownCap > 0 && cooldown >= m.cfg.CooldownCap {
			return m.cfg.CooldownCap
		}
	}
	return cooldown
}

// breakerForLocked returns the destBreaker for destination, creating it (and its
// underlying gobreaker.CircuitBreaker) on first use. Caller holds m.mu.
func (m *Manager) breakerForLocked(destination string) *destBreaker {
	if db, ok := m.breakers[destination]; ok {
		return db
	}
	db := &destBreaker{}
	settings := gobreaker.Settings{
		Name:        destination,
		MaxRequests: m.cfg.HalfOpenMaxRequests,
		Interval:    0,
		Timeout:     m.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.mu.Lock()
			switch to {
			case gobreaker.StateOpen:
				if from == gobreaker.StateHalfOpen {
					db.reopens++
				}
				db.nextProbeAt = time.Now().Add(m.cooldownFor(db.reopens))
			case gobreaker.StateClosed:
				db.reopens = 0
				db.nextProbeAt = time.Time{}
			}
			m.mu.Unlock()
			if m.cfg.OnStateChange != nil {
				m.cfg.OnStateChange(name, fromGobreakerState(from), fromGobreakerState(to))
			}
		},
	}
	db.cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[destination] = db
	return db
}

// inExtendedCooldownLocked reports whether destination is still within an
// extended cooldown window gobreaker's own fixed Timeout would have
// already let expire. Caller holds m.mu.
func (db *destBreaker) inExtendedCooldownLocked() bool {
	return !db.nextProbeAt.IsZero() && time.Now().Before(db.nextProbeAt)
}

// Execute runs fn through the named destination's breaker. An open
// breaker short-circuits fn and returns a coreerr.KindBreakerOpen error
// without invoking it ("open breaker fails fast").
func (m *Manager) Execute(ctx context.Context, destination string, fn func(context.Context) error) error {
	m.mu.Lock()
	db := m.breakerForLocked(destination)
	blocked := db.inExtendedCooldownLocked()
	m.mu.Unlock()
	if blocked {
		return coreerr.Wrap(coreerr.KindBreakerOpen, gobreaker.ErrOpenState)
	}

	_, err := db.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return coreerr.Wrap(coreerr.KindBreakerOpen, err)
	}
	return err
}

// State reports the current state of a destination's breaker. A
// destination with no breaker yet (never exercised) reports closed.
func (m *Manager) State(destination string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	db, ok := m.breakers[destination]
	if !ok {
		return StateClosed
	}
	if db.inExtendedCooldownLocked() {
		return StateOpen
	}
	return fromGobreakerState(db.cb.State())
}

// Counts exposes the destination's raw success/failure counters for
// metrics and health endpoints.
func (m *Manager) Counts(destination string) gobreaker.Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	db, ok := m.breakers[destination]
	if !ok {
		return gobreaker.Counts{}
	}
	return db.cb.Counts()
}
