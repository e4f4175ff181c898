// Package circuitbreaker guards connection providers with Sony's gobreaker
// and feeds breaker state back into datasource health.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of trial requests allowed while half-open
	MaxConcurrentRequests int
	// Interval is the rolling window after which closed-state counts reset
	Interval time.Duration
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		Interval:              time.Minute,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker max failures must be positive, got %d", c.MaxFailures))
	}
	if c.Timeout <= 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker timeout must be positive, got %v", c.Timeout))
	}
	if c.MaxConcurrentRequests <= 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker max concurrent requests must be positive, got %d", c.MaxConcurrentRequests))
	}
	if c.Interval < 0 {
		return errors.ConfigError(fmt.Sprintf("circuit breaker interval must not be negative, got %v", c.Interval))
	}
	return nil
}

// State represents the current state of a circuit breaker
type State int

const (
	// StateClosed lets calls through
	StateClosed State = iota
	// StateOpen rejects calls without reaching the provider
	StateOpen
	// StateHalfOpen lets a limited number of trial requests through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGoBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats is a point-in-time view of one breaker
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	Failures            uint32 `json:"failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// StateListener is told about every state transition. It runs while the
// breaker holds its lock and must not call back into the breaker.
type StateListener func(name string, from, to State)

// Breaker wraps a gobreaker.CircuitBreaker for one datasource
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker. An invalid config falls back to DefaultConfig.
func NewBreaker(name string, config Config, logger logging.Logger, listeners ...StateListener) *Breaker {
	logger = logging.OrGlobal(logger)
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Err(err),
			logging.DataSource(name),
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.DataSource(name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
			for _, listener := range listeners {
				listener(name, fromGoBreaker(from), fromGoBreaker(to))
			}
		},
		IsSuccessful: isSuccessful,
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// isSuccessful keeps caller-side failures from tripping the breaker: a
// cancelled context says nothing about the endpoint.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeNotFound:
		return true
	}
	return false
}

// Execute runs fn through the breaker. Rejections are connection errors
// wrapping gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState):
		return errors.ConnectionError(fmt.Sprintf("circuit breaker for datasource %s is open", b.name), err)
	case stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return errors.ConnectionError(fmt.Sprintf("circuit breaker for datasource %s is probing", b.name), err)
	}
	return err
}

// Name returns the datasource name the breaker guards
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	return fromGoBreaker(b.breaker.State())
}

// IsOpen reports whether calls are currently rejected
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Stats returns current statistics
func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Name:                b.name,
		State:               b.State().String(),
		Requests:            counts.Requests,
		Failures:            counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

// IsRejection reports whether err came from an open or probing breaker
// rather than from the provider.
func IsRejection(err error) bool {
	return stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)
}
