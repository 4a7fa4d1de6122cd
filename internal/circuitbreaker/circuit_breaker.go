// Package circuitbreaker stops calling a failing upstream until it has had
// time to recover.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/modelforge/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed lets every call through
	StateClosed State = "closed"
	// StateOpen rejects calls until the cool-down elapses
	StateOpen State = "open"
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen State = "half_open"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe budget is used up
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config configures a circuit breaker
type Config struct {
	Name string
	// MinCalls is the number of calls observed before the failure rate is considered
	MinCalls int
	// FailureThreshold is the failure rate (0.0-1.0) that opens the circuit
	FailureThreshold float64
	// ConsecutiveFailures opens the circuit regardless of rate
	ConsecutiveFailures int
	// Timeout is the open-state cool-down before probing
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// DefaultConfig returns the settings used for the IPFS gateway
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MinCalls:            10,
		FailureThreshold:    0.5,
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		HalfOpenMaxCalls:    3,
	}
}

// Stats is a point-in-time view of the breaker
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	TotalCalls       int       `json:"totalCalls"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	totalCalls       int
	halfOpenCalls    int
	consecutiveFails int
	lastStateChange  time.Time
}

// New creates a closed circuit breaker
func New(cfg Config, logger *logging.Logger) *CircuitBreaker {
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{
		cfg:    cfg,
		logger: logger.WithField("circuit_breaker", cfg.Name),
		now:    time.Now,
		state:  StateClosed,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.logger.Info("circuit breaker half-open; probing upstream")
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
	}
	return nil
}

// release returns a half-open probe slot without recording an outcome
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMaxCalls {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed after recovery")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			fields := logging.Fields{
				"failures":          cb.failures,
				"total_calls":       cb.totalCalls,
				"consecutive_fails": cb.consecutiveFails,
			}
			cb.setState(StateOpen)
			cb.logger.WithFields(fields).Warn("circuit breaker opened")
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit breaker reopened after failed probe")
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.cfg.ConsecutiveFailures > 0 && cb.consecutiveFails >= cb.cfg.ConsecutiveFailures {
		return true
	}
	if cb.totalCalls < cb.cfg.MinCalls {
		return false
	}
	return float64(cb.failures)/float64(cb.totalCalls) >= cb.cfg.FailureThreshold
}

// setState switches state and starts a fresh observation window
func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.halfOpenCalls = 0
	if state == StateClosed {
		cb.consecutiveFails = 0
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		TotalCalls:       cb.totalCalls,
		ConsecutiveFails: cb.consecutiveFails,
		LastStateChange:  cb.lastStateChange,
	}
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.logger.Info("circuit breaker manually reset")
}
