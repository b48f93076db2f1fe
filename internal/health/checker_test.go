package health

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/backend"
)

// fakeConnector hands out FakeSessions, or fails when err is set.
type fakeConnector struct {
	err      error
	connects int
}

func (f *fakeConnector) Connect(context.Context) (backend.Session, error) {
	f.connects++
	if f.err != nil {
		return nil, f.err
	}
	return &backend.FakeSession{}, nil
}

func TestCheckerInitialState(t *testing.T) {
	c := NewChecker(&fakeConnector{}, nil, zap.NewNop())

	// Before the first check, unknown is treated as healthy.
	if !c.Healthy() {
		t.Error("unknown state should report healthy")
	}
	if c.State().Status != StatusUnknown {
		t.Errorf("expected unknown status, got %v", c.State().Status)
	}
}

func TestCheckerHealthyBackend(t *testing.T) {
	fc := &fakeConnector{}
	c := NewChecker(fc, nil, zap.NewNop())

	c.check()

	st := c.State()
	if st.Status != StatusHealthy {
		t.Errorf("expected healthy, got %v", st.Status)
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 failures, got %d", st.ConsecutiveFailures)
	}
	if st.LastCheck.IsZero() {
		t.Error("expected last check timestamp")
	}

	// A second check reuses the held session instead of redialing.
	c.check()
	if fc.connects != 1 {
		t.Errorf("expected 1 connect, got %d", fc.connects)
	}
}

func TestCheckerUnhealthyAfterThreshold(t *testing.T) {
	fc := &fakeConnector{err: errors.New("connection refused")}
	c := NewChecker(fc, nil, zap.NewNop())

	c.check()
	c.check()
	if c.State().Status == StatusUnhealthy {
		t.Fatal("should not be unhealthy below the failure threshold")
	}
	if !c.Healthy() {
		t.Error("below threshold should still report healthy")
	}

	c.check()
	if c.State().Status != StatusUnhealthy {
		t.Errorf("expected unhealthy after %d failures, got %v", c.failureThreshold, c.State().Status)
	}
	if c.Healthy() {
		t.Error("unhealthy backend must not report healthy")
	}
	if c.State().LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestCheckerRecovery(t *testing.T) {
	fc := &fakeConnector{err: errors.New("down")}
	c := NewChecker(fc, nil, zap.NewNop())

	for i := 0; i < c.failureThreshold; i++ {
		c.check()
	}
	if c.Healthy() {
		t.Fatal("expected unhealthy")
	}

	fc.err = nil
	c.check()

	st := c.State()
	if st.Status != StatusHealthy {
		t.Errorf("expected recovery to healthy, got %v", st.Status)
	}
	if st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Errorf("expected cleared failure state, got %+v", st)
	}
}

func TestStatusString(t *testing.T) {
	if StatusHealthy.String() != "healthy" ||
		StatusUnhealthy.String() != "unhealthy" ||
		StatusUnknown.String() != "unknown" {
		t.Error("unexpected status strings")
	}
}
