package overlay

import (
	"testing"
	"time"

	"github.com/jrydberg/friendly/internal/ident"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func managerCount(ctrl *Controller) int {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	return len(ctrl.managers)
}

func TestProbeManagerStartRegistersASessionWithController(t *testing.T) {
	ctrl := newTestController(StaticFactory{})
	m := NewProbeManager(ctrl, ident.Random(), StaticFactory{})

	m.Start()
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return managerCount(ctrl) == 1 })
}

func TestProbeManagerStartIsIdempotent(t *testing.T) {
	ctrl := newTestController(StaticFactory{})
	m := NewProbeManager(ctrl, ident.Random(), StaticFactory{})

	m.Start()
	m.Start()
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return managerCount(ctrl) == 1 })
	// A second Start while live must not spawn a second loop goroutine;
	// there is no direct observable here beyond it not panicking/racing
	// on the stop channel, which a double close would trigger.
}

func TestProbeManagerStopUnregistersSession(t *testing.T) {
	ctrl := newTestController(StaticFactory{})
	m := NewProbeManager(ctrl, ident.Random(), StaticFactory{})

	m.Start()
	waitUntil(t, time.Second, func() bool { return managerCount(ctrl) == 1 })

	m.Stop()
	if managerCount(ctrl) != 0 {
		t.Fatal("expected Stop to unregister the manager's current session")
	}
}

func TestProbeManagerStopBeforeStartIsNoOp(t *testing.T) {
	ctrl := newTestController(StaticFactory{})
	m := NewProbeManager(ctrl, ident.Random(), StaticFactory{})

	m.Stop()
	if managerCount(ctrl) != 0 {
		t.Fatal("expected no registration to appear from a Stop on a never-started manager")
	}
}

func TestProbeManagerAcceptDelegatesToFactory(t *testing.T) {
	called := false
	factory := StaticFactory{Build: func(addr Address) Protocol {
		called = true
		return fakeProtocol{}
	}}
	ctrl := newTestController(factory)
	m := NewProbeManager(ctrl, ident.Random(), factory)

	if m.Accept(Address{}) == nil {
		t.Fatal("expected Accept to return the factory's built protocol")
	}
	if !called {
		t.Fatal("expected Accept to delegate to the factory's Build func")
	}
}

func TestProbeManagerQReportsConfiguredQuery(t *testing.T) {
	q := ident.Random()
	m := NewProbeManager(newTestController(StaticFactory{}), q, StaticFactory{})
	if m.Q() != q {
		t.Fatal("expected Q to report the query this manager searches for")
	}
}
