// Package health runs periodic reachability checks against the
// configured backend and feeds the /ready endpoint and the backend
// health gauge.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/metrics"
)

// Status represents the backend's health status.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// BackendHealth holds the observed state of the backend database.
type BackendHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker pings the backend on an interval over its own dedicated
// session, reconnecting when the ping path breaks.
type Checker struct {
	connector backend.Connector
	metrics   *metrics.Collector
	logger    *zap.Logger

	interval         time.Duration
	failureThreshold int
	checkTimeout     time.Duration

	mu      sync.RWMutex
	state   BackendHealth
	session backend.Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a health checker. A zero interval defaults to 10s
// and a zero threshold to 3 consecutive failures.
func NewChecker(c backend.Connector, m *metrics.Collector, logger *zap.Logger) *Checker {
	return &Checker{
		connector:        c,
		metrics:          m,
		logger:           logger,
		interval:         10 * time.Second,
		failureThreshold: 3,
		checkTimeout:     5 * time.Second,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	c.logger.Info("health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("threshold", c.failureThreshold))
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()

	c.mu.Lock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.mu.Unlock()
	c.logger.Info("health checker stopped")
}

func (c *Checker) run() {
	// Run immediately on start
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.check()
		case <-c.stopCh:
			return
		}
	}
}

// check pings over the held session, dialing a fresh one when none is
// held or the ping fails.
func (c *Checker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), c.checkTimeout)
	defer cancel()

	err := c.ping(ctx)
	c.updateStatus(err)
}

func (c *Checker) ping(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Ping(ctx); err == nil {
			return nil
		}
		sess.Close()
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
	}

	sess, err := c.connector.Connect(ctx)
	if err != nil {
		return err
	}
	if err := sess.Ping(ctx); err != nil {
		sess.Close()
		return err
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	return nil
}

func (c *Checker) updateStatus(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.LastCheck = time.Now()

	if err == nil {
		if c.state.ConsecutiveFailures > 0 {
			c.logger.Info("backend recovered",
				zap.Int("failures", c.state.ConsecutiveFailures))
		}
		c.state.Status = StatusHealthy
		c.state.ConsecutiveFailures = 0
		c.state.LastError = ""
	} else {
		c.state.ConsecutiveFailures++
		c.state.LastError = err.Error()
		if c.state.ConsecutiveFailures >= c.failureThreshold {
			if c.state.Status != StatusUnhealthy {
				c.logger.Warn("backend marked unhealthy",
					zap.Int("failures", c.state.ConsecutiveFailures),
					zap.Error(err))
			}
			c.state.Status = StatusUnhealthy
		}
	}

	c.metrics.SetBackendHealth(c.state.Status == StatusHealthy)
}

// Healthy reports whether the backend is usable. Unknown is treated as
// healthy so /ready does not flap before the first check completes.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status != StatusUnhealthy
}

// State returns a snapshot of the backend health.
func (c *Checker) State() BackendHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
