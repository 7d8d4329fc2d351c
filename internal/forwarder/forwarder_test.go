package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
	"github.com/cloudtel/asterisk-blf-sync/internal/registry"
)

// fakeWrites records every setDeviceState call and lets a test gate
// individual attempts open/closed to control interleaving.
type fakeWrites struct {
	mu       sync.Mutex
	calls    []call
	fail     map[string]bool // device states intentionally failed once
	gate     chan struct{}   // if non-nil, writes block here until closed
	onAttempt func(device string, state devicestate.State)
}

type call struct {
	device string
	state  devicestate.State
}

func (f *fakeWrites) write(ctx context.Context, device string, state devicestate.State) error {
	if f.onAttempt != nil {
		f.onAttempt(device, state)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{device, state})
	shouldFail := f.fail != nil && f.fail[key(device, state)]
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if shouldFail {
		return errTransport{}
	}
	return nil
}

type errTransport struct{}

func (errTransport) Error() string { return "transport error" }

func key(device string, state devicestate.State) string {
	return device + ":" + state.String()
}

func (f *fakeWrites) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeWrites) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSingleUpdatePropagates(t *testing.T) {
	fw := &fakeWrites{}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(ctx, "serverA", map[string]devicestate.State{}, fw.write, 10*time.Millisecond, reg, nil)
	defer f.Dispose()

	reg.Update(registry.Batch{"Custom:101": devicestate.InUse})

	waitUntil(t, time.Second, func() bool { return fw.callCount() == 1 })

	got := fw.last()
	if got.device != "Custom:101" || got.state != devicestate.InUse {
		t.Errorf("write = %+v, want Custom:101/InUse", got)
	}
}

func TestCoalescingUnderContention(t *testing.T) {
	fw := &fakeWrites{gate: make(chan struct{})}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(ctx, "serverB", map[string]devicestate.State{}, fw.write, 10*time.Millisecond, reg, nil)
	defer f.Dispose()

	reg.Update(registry.Batch{"Custom:101": devicestate.InUse})
	waitUntil(t, time.Second, func() bool { return fw.callCount() >= 1 && fw.last().device == "Custom:101" })

	// The write above is now blocked on the gate. Two more batches arrive
	// before it completes.
	reg.Update(registry.Batch{"Custom:101": devicestate.Busy})
	reg.Update(registry.Batch{"Custom:101": devicestate.NotInUse})

	close(fw.gate)

	waitUntil(t, time.Second, func() bool { return fw.callCount() == 2 })

	if fw.callCount() != 2 {
		t.Fatalf("callCount = %d, want exactly 2 (one coalesced follow-up)", fw.callCount())
	}
	got := fw.last()
	if got.state != devicestate.NotInUse {
		t.Errorf("final write state = %v, want NotInUse", got.state)
	}
}

func TestTargetWithdrawnMidWriteReverts(t *testing.T) {
	fw := &fakeWrites{gate: make(chan struct{})}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed := map[string]devicestate.State{"Custom:101": devicestate.NotInUse}
	f := New(ctx, "serverB", seed, fw.write, 10*time.Millisecond, reg, nil)
	defer f.Dispose()

	reg.Update(registry.Batch{"Custom:101": devicestate.InUse})
	waitUntil(t, time.Second, func() bool { return fw.callCount() >= 1 })

	// While the write of InUse is in flight, withdraw the target back to
	// what current already holds (NotInUse). This removes pending[device].
	reg.Update(registry.Batch{"Custom:101": devicestate.NotInUse})

	close(fw.gate)

	// Expect a follow-up write reverting to NotInUse.
	waitUntil(t, time.Second, func() bool { return fw.callCount() == 2 })

	calls := append([]call{}, fw.calls...)
	if calls[0].state != devicestate.InUse {
		t.Fatalf("first write = %v, want InUse", calls[0].state)
	}
	if calls[1].state != devicestate.NotInUse {
		t.Fatalf("revert write = %v, want NotInUse", calls[1].state)
	}

	f.mu.Lock()
	current := f.current["Custom:101"]
	_, stillPending := f.pending["Custom:101"]
	f.mu.Unlock()

	if current != devicestate.NotInUse {
		t.Errorf("current[Custom:101] = %v, want NotInUse", current)
	}
	if stillPending {
		t.Error("pending[Custom:101] should be empty after the revert completes")
	}
}

func TestTransientFailureRetriesSameTarget(t *testing.T) {
	attempts := 0
	fw := &fakeWrites{fail: map[string]bool{key("Custom:101", devicestate.InUse): true}}

	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only fail the first attempt: flip the flag off after recording one
	// failed call, so the retry on the same (device, state) succeeds.
	first := true
	fw.onAttempt = func(device string, state devicestate.State) {
		attempts++
		if !first {
			fw.mu.Lock()
			delete(fw.fail, key(device, state))
			fw.mu.Unlock()
		}
		first = false
	}

	f := New(ctx, "serverC", map[string]devicestate.State{}, fw.write, 5*time.Millisecond, reg, nil)
	defer f.Dispose()

	reg.Update(registry.Batch{"Custom:101": devicestate.InUse})

	waitUntil(t, time.Second, func() bool { return attempts >= 2 })

	f.mu.Lock()
	current, ok := f.current["Custom:101"]
	f.mu.Unlock()

	if !ok || current != devicestate.InUse {
		t.Errorf("current[Custom:101] = %v, %v, want InUse, true (after retry succeeds)", current, ok)
	}
}

func TestExtensionPatternFilteringScenario(t *testing.T) {
	// This exercises the registry/forwarder path once extmap has already
	// dropped a non-matching extension — i.e. the batch never contains it.
	fw := &fakeWrites{}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(ctx, "serverD", map[string]devicestate.State{}, fw.write, 10*time.Millisecond, reg, nil)
	defer f.Dispose()

	reg.Update(registry.Batch{"Custom:150": devicestate.Busy})

	waitUntil(t, time.Second, func() bool { return fw.callCount() == 1 })

	got := fw.last()
	if got.device != "Custom:150" || got.state != devicestate.Busy {
		t.Errorf("write = %+v, want Custom:150/Busy", got)
	}
}

func TestDisposeStopsFurtherWrites(t *testing.T) {
	fw := &fakeWrites{gate: make(chan struct{})}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(ctx, "serverE", map[string]devicestate.State{}, fw.write, 10*time.Millisecond, reg, nil)

	reg.Update(registry.Batch{"Custom:101": devicestate.InUse})
	waitUntil(t, time.Second, func() bool { return fw.callCount() >= 1 })

	f.Dispose()
	close(fw.gate)

	// Give the in-flight goroutine a chance to observe disposal before we
	// assert no further writes happen.
	time.Sleep(20 * time.Millisecond)

	reg.Update(registry.Batch{"Custom:101": devicestate.Busy})
	time.Sleep(20 * time.Millisecond)

	if fw.callCount() != 1 {
		t.Errorf("callCount after Dispose = %d, want 1 (no further writes)", fw.callCount())
	}
}
