package health

import (
	"context"
	"time"
)

// CheckType represents the kind of dependency a check covers
type CheckType string

const (
	CheckTypeRedis   CheckType = "redis"
	CheckTypeRaft    CheckType = "raft"
	CheckTypeStorage CheckType = "storage"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int

	// StartPeriod is the grace period during which failures are not counted
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of one dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy indicates if the dependency is currently considered healthy
	Healthy bool

	// StartedAt is when monitoring started
	StartedAt time.Time
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy:   true, // Assume healthy until proven otherwise
		StartedAt: time.Now(),
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	if s.InStartPeriod(config) {
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// InStartPeriod returns true if we're still in the startup grace period
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}

// FuncChecker adapts a function to the Checker interface. A nil error is
// healthy.
type FuncChecker struct {
	CheckType CheckType
	Fn        func(ctx context.Context) error
	// OK is the message reported on success
	OK string
}

// Check calls the function
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.Fn(ctx); err != nil {
		return Result{Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: f.OK, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return f.CheckType
}
