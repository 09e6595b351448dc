// Package recovery tracks per-component health and applies recovery
// strategies, including a circuit breaker that sheds load from failing
// subsystems.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/a2a"
)

// ComponentHealth grades a subsystem.
type ComponentHealth string

const (
	Healthy   ComponentHealth = "healthy"
	Degraded  ComponentHealth = "degraded"
	Warning   ComponentHealth = "warning"
	Unhealthy ComponentHealth = "unhealthy"
	Failed    ComponentHealth = "failed"
)

// Strategy names the recovery action configured for a component.
type Strategy string

const (
	StrategyRetry        Strategy = "retry"
	StrategyRestart      Strategy = "restart"
	StrategyFailover     Strategy = "failover"
	StrategyCircuitBreak Strategy = "circuit_break"
	StrategyIgnore       Strategy = "ignore"
)

// breakerState is the circuit state machine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int
	RecoveryThreshold int
	OpenTimeout       time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryThreshold: 2,
		OpenTimeout:       30 * time.Second,
	}
}

// CircuitBreaker opens after a run of consecutive failures and closes
// again after enough consecutive successes through the half-open probe.
type CircuitBreaker struct {
	mu        sync.Mutex
	config    BreakerConfig
	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config}
}

// Call runs fn through the breaker. An open breaker short-circuits with
// ServiceUnavailable; after the open timeout the breaker turns half-open and
// lets calls through as probes until recovery_threshold consecutive
// successes close it or one failure reopens it.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	switch cb.state {
	case breakerOpen:
		if time.Since(cb.openedAt) < cb.config.OpenTimeout {
			cb.mu.Unlock()
			return a2a.ServiceUnavailable("circuit breaker is open")
		}
		cb.state = breakerHalfOpen
		cb.successes = 0
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == breakerHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = breakerOpen
			cb.openedAt = time.Now()
		}
		return err
	}
	cb.failures = 0
	if cb.state == breakerHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.RecoveryThreshold {
			cb.state = breakerClosed
		}
	}
	return nil
}

// Open reports whether the breaker currently sheds load.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == breakerOpen
}

// componentState tracks one supervised subsystem.
type componentState struct {
	health   ComponentHealth
	strategy Strategy
	failures int
	breaker  *CircuitBreaker
	restart  func(ctx context.Context) error
}

// Supervisor grades component health from reported outcomes and applies
// the configured recovery strategy.
type Supervisor struct {
	mu         sync.Mutex
	components map[string]*componentState
	config     BreakerConfig
	logger     *slog.Logger
}

// NewSupervisor builds a recovery supervisor.
func NewSupervisor(config BreakerConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		components: make(map[string]*componentState),
		config:     config,
		logger:     logger,
	}
}

// Register adds a component with its strategy; restart is invoked for the
// restart strategy and may be nil otherwise.
func (s *Supervisor) Register(name string, strategy Strategy, restart func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = &componentState{
		health:   Healthy,
		strategy: strategy,
		breaker:  NewCircuitBreaker(s.config),
		restart:  restart,
	}
}

// Breaker exposes the breaker for a component.
func (s *Supervisor) Breaker(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.components[name]; ok {
		return state.breaker
	}
	return nil
}

// Health returns the current grade of a component.
func (s *Supervisor) Health(name string) ComponentHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.components[name]; ok {
		return state.health
	}
	return Failed
}

// ReportOutcome folds one success or failure into the component grade and
// triggers the recovery strategy when the grade reaches unhealthy.
func (s *Supervisor) ReportOutcome(ctx context.Context, name string, err error) {
	s.mu.Lock()
	state, ok := s.components[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err == nil {
		state.failures = 0
		state.health = Healthy
		s.mu.Unlock()
		return
	}
	state.failures++
	switch {
	case state.failures >= s.config.FailureThreshold*2:
		state.health = Failed
	case state.failures >= s.config.FailureThreshold:
		state.health = Unhealthy
	case state.failures >= s.config.FailureThreshold/2 && s.config.FailureThreshold >= 2:
		state.health = Warning
	default:
		state.health = Degraded
	}
	health := state.health
	strategy := state.strategy
	restart := state.restart
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "Component degraded",
		"component", name,
		"health", string(health),
		"strategy", string(strategy),
		"error", err,
	)

	if health != Unhealthy && health != Failed {
		return
	}
	switch strategy {
	case StrategyRestart:
		if restart != nil {
			if restartErr := restart(ctx); restartErr != nil {
				s.logger.ErrorContext(ctx, "Component restart failed",
					"component", name,
					"error", restartErr,
				)
			}
		}
	case StrategyIgnore, StrategyRetry, StrategyFailover, StrategyCircuitBreak:
		// Retry is caller-driven; failover and circuit breaking act at the
		// call site through Breaker.
	}
}
