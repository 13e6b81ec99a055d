package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/log"
)

// ReportFunc receives the health of a named dependency after every check
type ReportFunc func(name string, healthy bool, message string)

// Monitor runs a set of named checks on an interval
type Monitor struct {
	cfg    Config
	report ReportFunc
	logger zerolog.Logger

	mu     sync.Mutex
	checks map[string]*monitored

	cancel context.CancelFunc
	doneCh chan struct{}
}

type monitored struct {
	checker Checker
	status  *Status
}

// NewMonitor creates a monitor. report may be nil.
func NewMonitor(cfg Config, report ReportFunc) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if report == nil {
		report = func(string, bool, string) {}
	}
	return &Monitor{
		cfg:    cfg,
		report: report,
		logger: log.WithComponent("health"),
		checks: make(map[string]*monitored),
	}
}

// Add registers a check under name, replacing any previous one
func (m *Monitor) Add(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &monitored{checker: c, status: NewStatus()}
}

// Start runs every check now and then on each interval until Stop
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}

// Stop stops the monitor and waits for a running round to finish
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.doneCh
}

// CheckAll runs every check once, in name order
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		m.check(ctx, name)
	}
}

func (m *Monitor) check(ctx context.Context, name string) {
	m.mu.Lock()
	mc, ok := m.checks[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	result := mc.checker.Check(checkCtx)
	cancel()

	m.mu.Lock()
	wasHealthy := mc.status.Healthy
	mc.status.Update(result, m.cfg)
	healthy := mc.status.Healthy
	m.mu.Unlock()

	if wasHealthy != healthy {
		event := m.logger.Info()
		if !healthy {
			event = m.logger.Warn()
		}
		event.Str("check", name).
			Str("type", string(mc.checker.Type())).
			Bool("healthy", healthy).
			Str("message", result.Message).
			Msg("Dependency health changed")
	}
	m.report(name, healthy, result.Message)
}

// Status returns a copy of the named check's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.checks[name]
	if !ok {
		return Status{}, false
	}
	return *mc.status, true
}
