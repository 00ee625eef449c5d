package capture

import (
	"errors"
	"sync"
	"testing"
)

func idleMachine(t *testing.T) *Machine {
	t.Helper()
	m := New()
	if d := m.OnPreviewStarted(); d != Hold {
		t.Fatalf("fresh preview start should not fire, got %v", d)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle after preview start, got %v", m.State())
	}
	return m
}

func TestMachine_StartsStopped(t *testing.T) {
	m := New()
	if m.State() != Stopped {
		t.Fatalf("new machine state %v, want stopped", m.State())
	}
	if _, err := m.RequestCapture(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("capture from stopped: want ErrInvalidState, got %v", err)
	}
	if err := m.RequestFocus(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("focus from stopped: want ErrInvalidState, got %v", err)
	}
	if m.IsIdle() {
		t.Fatalf("stopped must not be idle")
	}
}

func TestMachine_CaptureFromIdleFires(t *testing.T) {
	m := idleMachine(t)
	d, err := m.RequestCapture()
	if err != nil || d != Fire {
		t.Fatalf("RequestCapture = %v, %v; want fire", d, err)
	}
	if err := m.OnCaptureAccepted(); err != nil {
		t.Fatalf("OnCaptureAccepted: %v", err)
	}
	if m.State() != Capturing {
		t.Fatalf("state %v, want capturing", m.State())
	}
	if m.IsIdle() {
		t.Fatalf("capturing must not be idle")
	}
}

func TestMachine_CapturingOnlyFromIdle(t *testing.T) {
	m := New()
	if err := m.OnCaptureAccepted(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accept from stopped: %v", err)
	}

	m = idleMachine(t)
	if err := m.RequestFocus(); err != nil {
		t.Fatalf("RequestFocus: %v", err)
	}
	err := m.OnCaptureAccepted()
	var ise *InvalidStateError
	if !errors.As(err, &ise) || ise.State != Focusing {
		t.Fatalf("accept from focusing: want InvalidStateError{focusing}, got %v", err)
	}
	if m.State() != Focusing {
		t.Fatalf("rejected transition changed state to %v", m.State())
	}

	m = idleMachine(t)
	_, _ = m.RequestCapture()
	_ = m.OnCaptureAccepted()
	if err := m.OnCaptureAccepted(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second accept while capturing: %v", err)
	}
}

func TestMachine_FocusLatchedCaptureFiresOnce(t *testing.T) {
	m := idleMachine(t)
	if err := m.RequestFocus(); err != nil {
		t.Fatalf("RequestFocus: %v", err)
	}
	d, err := m.RequestCapture()
	if err != nil || d != Hold {
		t.Fatalf("capture while focusing = %v, %v; want hold", d, err)
	}
	if m.Latch() != LatchAfterFocus {
		t.Fatalf("latch %v, want after-focus", m.Latch())
	}

	if d := m.OnAutoFocusComplete(true); d != Fire {
		t.Fatalf("focus complete should fire latched capture")
	}
	if m.FocusResult() != FocusSucceeded {
		t.Fatalf("focus result %v", m.FocusResult())
	}
	if d := m.OnAutoFocusComplete(true); d != Hold {
		t.Fatalf("duplicate focus completion fired again")
	}
	if m.Latch() != LatchNone {
		t.Fatalf("latch not consumed: %v", m.Latch())
	}
}

func TestMachine_RepeatedRequestsCollapse(t *testing.T) {
	m := idleMachine(t)
	_ = m.RequestFocus()
	_, _ = m.RequestCapture()
	_, _ = m.RequestCapture()
	_, _ = m.RequestCapture()
	if m.Latch() != LatchAfterFocusThenIdle {
		t.Fatalf("latch %v, want after-focus-then-idle", m.Latch())
	}

	if d := m.OnAutoFocusComplete(false); d != Fire {
		t.Fatalf("expected fire after focus")
	}
	if m.FocusResult() != FocusFailed {
		t.Fatalf("focus result %v, want fail", m.FocusResult())
	}
	_ = m.OnCaptureAccepted()

	fires := 0
	if m.OnPreviewStarted() == Fire {
		fires++
	}
	if m.OnPreviewStarted() == Fire {
		fires++
	}
	if fires != 1 {
		t.Fatalf("snap-on-idle fired %d times, want 1", fires)
	}
}

func TestMachine_CaptureWhileCapturingLatchesOnIdle(t *testing.T) {
	m := idleMachine(t)
	_, _ = m.RequestCapture()
	_ = m.OnCaptureAccepted()

	d, err := m.RequestCapture()
	if err != nil || d != Hold {
		t.Fatalf("capture while capturing = %v, %v", d, err)
	}
	if m.Latch() != LatchOnIdle {
		t.Fatalf("latch %v, want on-idle", m.Latch())
	}
	if m.OnPreviewStarted() != Fire {
		t.Fatalf("expected snap on idle")
	}
}

func TestMachine_CancelFocusDropsLatch(t *testing.T) {
	m := idleMachine(t)
	_ = m.RequestFocus()
	_, _ = m.RequestCapture()
	m.OnAutoFocusCancelled()

	if m.State() != Idle {
		t.Fatalf("state %v after cancel, want idle", m.State())
	}
	if m.Latch() != LatchNone {
		t.Fatalf("latch %v after cancel", m.Latch())
	}
	if d := m.OnAutoFocusComplete(true); d != Hold {
		t.Fatalf("late focus callback after cancel must not fire")
	}
}

func TestMachine_FocusOnlyFromIdle(t *testing.T) {
	m := idleMachine(t)
	_ = m.RequestFocus()
	if err := m.RequestFocus(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double focus: %v", err)
	}
}

func TestMachine_ReleaseForcesStopped(t *testing.T) {
	m := idleMachine(t)
	_, _ = m.RequestCapture()
	_ = m.OnCaptureAccepted()
	_, _ = m.RequestCapture()

	m.Release()
	if m.State() != Stopped {
		t.Fatalf("state %v after release", m.State())
	}
	if m.Latch() != LatchNone {
		t.Fatalf("release kept latch %v", m.Latch())
	}
	if m.OnPreviewStarted() != Hold {
		t.Fatalf("latch survived release")
	}
}

func TestMachine_ConcurrentStateReads(t *testing.T) {
	m := idleMachine(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.State()
				_ = m.IsIdle()
			}
		}()
	}
	for j := 0; j < 50; j++ {
		_ = m.RequestFocus()
		m.OnAutoFocusComplete(true)
	}
	wg.Wait()
	if m.State() != Idle {
		t.Fatalf("state %v, want idle", m.State())
	}
}
