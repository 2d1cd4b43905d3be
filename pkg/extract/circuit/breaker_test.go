package circuit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingCall(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return errBoom
	}
}

func succeedingCall(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return nil
	}
}

func TestClosedPassesThrough(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	var calls atomic.Int32
	if err := b.Call(context.Background(), succeedingCall(&calls)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
	if b.GetState() != StateClosed {
		t.Errorf("Expected CLOSED, got %s", b.GetState())
	}
}

func TestOpensAtThresholdAndFailsFast(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		if err := b.Call(context.Background(), failingCall(&calls)); !errors.Is(err, errBoom) {
			t.Fatalf("Call %d: expected boom, got %v", i, err)
		}
	}
	if b.GetState() != StateOpen {
		t.Fatalf("Expected OPEN after 5 failures, got %s", b.GetState())
	}

	// The 6th call must fail fast without invoking the extractor.
	err := b.Call(context.Background(), failingCall(&calls))
	var cbErr *Error
	if !errors.As(err, &cbErr) {
		t.Fatalf("Expected circuit error, got %v", err)
	}
	if cbErr.State != StateOpen {
		t.Errorf("Expected OPEN in error, got %s", cbErr.State)
	}
	if calls.Load() != 5 {
		t.Errorf("Extractor invoked while OPEN: %d calls", calls.Load())
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	var calls atomic.Int32
	_ = b.Call(context.Background(), failingCall(&calls))
	_ = b.Call(context.Background(), failingCall(&calls))
	_ = b.Call(context.Background(), succeedingCall(&calls))

	if b.FailureCount() != 0 {
		t.Errorf("Expected failure count reset by success, got %d", b.FailureCount())
	}
	if b.GetState() != StateClosed {
		t.Errorf("Expected CLOSED, got %s", b.GetState())
	}
}

func TestRecoveryWindowAdmitsTrial(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 5, RecoveryTimeout: 50 * time.Millisecond})

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), failingCall(&calls))
	}

	// Before the window: fail fast, no invocation.
	if err := b.Call(context.Background(), failingCall(&calls)); err == nil {
		t.Fatal("Expected circuit error before recovery window")
	}
	if calls.Load() != 5 {
		t.Fatalf("Extractor invoked while OPEN: %d calls", calls.Load())
	}

	time.Sleep(60 * time.Millisecond)

	// After the window: the next call is let through as a trial.
	if err := b.Call(context.Background(), succeedingCall(&calls)); err != nil {
		t.Fatalf("Expected trial call to pass, got %v", err)
	}
	if calls.Load() != 6 {
		t.Errorf("Expected trial invocation, got %d calls", calls.Load())
	}
	if b.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after trial success, got %s", b.GetState())
	}
	if b.FailureCount() != 0 {
		t.Errorf("Expected failure count 0 after trial success, got %d", b.FailureCount())
	}
}

func TestTrialFailureReopens(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 2, RecoveryTimeout: 30 * time.Millisecond})

	var calls atomic.Int32
	_ = b.Call(context.Background(), failingCall(&calls))
	_ = b.Call(context.Background(), failingCall(&calls))

	time.Sleep(40 * time.Millisecond)

	if err := b.Call(context.Background(), failingCall(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("Expected trial to run and fail, got %v", err)
	}
	if b.GetState() != StateOpen {
		t.Fatalf("Expected OPEN after trial failure, got %s", b.GetState())
	}

	// The recovery timer restarted; an immediate call fails fast.
	if err := b.Call(context.Background(), failingCall(&calls)); err == nil {
		t.Fatal("Expected circuit error right after trial failure")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected no invocation after reopen, got %d calls", calls.Load())
	}
}

func TestSingleTrialWhileHalfOpen(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	var calls atomic.Int32
	_ = b.Call(context.Background(), failingCall(&calls))
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	trialStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Call(context.Background(), func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	if b.GetState() != StateHalfOpen {
		t.Errorf("Expected HALF_OPEN during trial, got %s", b.GetState())
	}

	// Concurrent attempts while the trial is in flight are rejected without
	// invoking the extractor.
	var rejected atomic.Int32
	for i := 0; i < 4; i++ {
		err := b.Call(context.Background(), failingCall(&calls))
		var cbErr *Error
		if errors.As(err, &cbErr) && cbErr.State == StateHalfOpen {
			rejected.Add(1)
		}
	}
	if rejected.Load() != 4 {
		t.Errorf("Expected 4 rejections during trial, got %d", rejected.Load())
	}

	close(release)
	wg.Wait()

	if b.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after trial success, got %s", b.GetState())
	}
}

func TestReset(t *testing.T) {
	b := New("mock/extraction", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	var calls atomic.Int32
	_ = b.Call(context.Background(), failingCall(&calls))
	if b.GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", b.GetState())
	}

	b.Reset()
	if b.GetState() != StateClosed || b.FailureCount() != 0 {
		t.Errorf("Expected clean CLOSED state after reset, got %s/%d", b.GetState(), b.FailureCount())
	}
}

func TestDefaultsApplied(t *testing.T) {
	b := New("mock/extraction", Config{})
	if b.cfg.FailureThreshold != DefaultConfig.FailureThreshold {
		t.Errorf("Expected default threshold %d, got %d", DefaultConfig.FailureThreshold, b.cfg.FailureThreshold)
	}
	if b.cfg.RecoveryTimeout != DefaultConfig.RecoveryTimeout {
		t.Errorf("Expected default recovery %s, got %s", DefaultConfig.RecoveryTimeout, b.cfg.RecoveryTimeout)
	}
}
