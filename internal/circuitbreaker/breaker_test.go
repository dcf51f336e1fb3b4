package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStore = errors.New("store down")

func failing() error { return errStore }
func succeeding() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); !errors.Is(err, errStore) {
			t.Fatalf("call %d: err = %v, want errStore", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// Open circuit rejects without running fn.
	ran := false
	err := cb.Call(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})

	cb.Call(failing)
	if cb.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if err := cb.Call(succeeding); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", cb.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2, Timeout: time.Minute})

	cb.Call(failing)
	cb.Call(succeeding)
	cb.Call(failing)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed; success should reset the count", cb.State())
	}
}

func TestCallReadRetriesWithBackoff(t *testing.T) {
	cb := New(Config{MaxFailures: 10, Timeout: time.Minute})

	calls := 0
	err := cb.CallRead(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errStore
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCallReadStopsOnOpenCircuit(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: time.Minute})

	calls := 0
	err := cb.CallRead(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return errStore
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	// First call trips the breaker; the second attempt sees it open and the
	// remaining attempts are skipped.
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCallReadHonorsContext(t *testing.T) {
	cb := New(Config{MaxFailures: 10, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.CallRead(ctx, 3, time.Minute, failing)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
