package connectors

import (
	"sync"
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow
	CircuitOpen                         // calls rejected until cooldown ends
	CircuitHalfOpen                     // probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-connector circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // time open before probing
	HalfOpenMax      int           // probe calls allowed while half-open
}

// DefaultBreakerConfig opens after 5 straight failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

type breaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probes      int
}

// Breakers tracks one circuit per connector name.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu sync.Mutex
	m  map[string]*breaker
}

func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breakers{cfg: cfg, now: time.Now, m: make(map[string]*breaker)}
}

func (b *Breakers) get(name string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.m[name]
	if !ok {
		br = &breaker{}
		b.m[name] = br
	}
	return br
}

// Allow returns a CircuitOpen error when calls to name must be rejected.
func (b *Breakers) Allow(name string) error {
	br := b.get(name)
	br.mu.Lock()
	defer br.mu.Unlock()

	switch br.state {
	case CircuitOpen:
		elapsed := b.now().Sub(br.lastFailure)
		if elapsed < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"connector %q unavailable after %d consecutive failures", name, br.failures).
				WithDetails(map[string]any{
					"connector":          name,
					"failures":           br.failures,
					"cooldown_remaining": (b.cfg.Cooldown - elapsed).String(),
				})
		}
		br.state = CircuitHalfOpen
		br.probes = 1
	case CircuitHalfOpen:
		if br.probes >= b.cfg.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "connector %q is being probed", name).
				WithDetails(map[string]any{"connector": name})
		}
		br.probes++
	}
	return nil
}

// Record feeds a call outcome into the circuit for name and returns its new state.
func (b *Breakers) Record(name string, err error) CircuitState {
	br := b.get(name)
	br.mu.Lock()
	defer br.mu.Unlock()

	if err == nil {
		br.state, br.failures, br.probes = CircuitClosed, 0, 0
		return br.state
	}
	br.failures++
	br.lastFailure = b.now()
	if br.state == CircuitHalfOpen || br.failures >= b.cfg.FailureThreshold {
		br.state = CircuitOpen
	}
	return br.state
}

// State returns the circuit state for name, moving open circuits whose
// cooldown has passed to half-open.
func (b *Breakers) State(name string) CircuitState {
	br := b.get(name)
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.state == CircuitOpen && b.now().Sub(br.lastFailure) >= b.cfg.Cooldown {
		br.state, br.probes = CircuitHalfOpen, 0
	}
	return br.state
}
