package manager

import (
	"time"

	"github.com/cuemby/boardsync/pkg/metrics"
)

// MetricsCollector collects metrics from the manager
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager:  mgr,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectBoardMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectBoardMetrics() {
	boards, err := c.manager.ListBoards()
	if err != nil {
		return
	}

	metrics.BoardsTotal.Set(float64(len(boards)))
	for _, b := range boards {
		metrics.BoardRevision.WithLabelValues(b.Board.ID).Set(float64(b.Revision))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	// Check if leader
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	// Get Raft stats
	stats := c.manager.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			metrics.RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
	}
}
