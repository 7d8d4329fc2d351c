// Package forwarder implements the per-server reconciliation engine: it
// compares the global desired state delivered by the registry against the
// server's locally-known state and issues setDeviceState writes,
// single-flight per server, with restoration on withdrawal and
// target-superseding semantics.
package forwarder

import (
    "context"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
    "github.com/cloudtel/asterisk-blf-sync/internal/registry"
    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// WriteFunc issues setDeviceState(device, state) against this forwarder's
// AMI client, bounded by the caller's context.
type WriteFunc func(ctx context.Context, device string, state devicestate.State) error

// Metrics is the subset of internal/metrics.Metrics the forwarder reports
// through, kept as an interface so forwarder tests need not import
// Prometheus.
type Metrics interface {
    ObserveWrite(server, result string, seconds float64)
    SetPendingDevices(server string, n int)
    SetInflight(server string, inflight bool)
}

// Forwarder is the reconciliation engine for one server session. It lives
// for one successful login session and is discarded on teardown.
type Forwarder struct {
    server        string
    write         WriteFunc
    retryInterval time.Duration
    metrics       Metrics

    ctx    context.Context
    cancel context.CancelFunc

    reg    *registry.Registry
    handle registry.Handle

    mu       sync.Mutex
    current  map[string]devicestate.State
    pending  map[string]devicestate.State
    inflight bool
    disposed bool
}

// New constructs a Forwarder for server, seeded with current (the result
// of a fresh listDeviceStates), and subscribes it to reg. ctx is the
// session's cancellation handle; writes issued by this forwarder are
// bounded by a context derived from it.
func New(ctx context.Context, server string, current map[string]devicestate.State, write WriteFunc, retryInterval time.Duration, reg *registry.Registry, metrics Metrics) *Forwarder {
    fctx, cancel := context.WithCancel(ctx)

    seeded := make(map[string]devicestate.State, len(current))
    for d, s := range current {
        seeded[d] = s
    }

    f := &Forwarder{
        server:        server,
        write:         write,
        retryInterval: retryInterval,
        metrics:       metrics,
        ctx:           fctx,
        cancel:        cancel,
        reg:           reg,
        current:       seeded,
        pending:       make(map[string]devicestate.State),
    }

    f.handle = reg.Subscribe(f.onBatch)

    return f
}

// Dispose unsubscribes from the registry and cancels any in-flight write.
// Any reconciliation racing with Dispose must observe disposed under lock
// and refuse to schedule a new write.
func (f *Forwarder) Dispose() {
    f.reg.Unsubscribe(f.handle)

    f.mu.Lock()
    f.disposed = true
    f.mu.Unlock()

    f.cancel()
}

// onBatch is the registry.Callback invoked under the registry lock. It
// must not block: it only updates pending and, if nothing is in flight,
// kicks off the write loop in a new goroutine.
func (f *Forwarder) onBatch(batch registry.Batch) {
    f.mu.Lock()

    for device, newState := range batch {
        if cur, ok := f.current[device]; ok && cur == newState {
            delete(f.pending, device)
            continue
        }
        f.pending[device] = newState
    }

    f.reportLocked()

    if f.disposed || f.inflight || len(f.pending) == 0 {
        f.mu.Unlock()
        return
    }

    device, state := pickAny(f.pending)
    f.inflight = true
    f.reportLocked()
    f.mu.Unlock()

    go f.writeLoop(device, state)
}

// writeLoop is the single-flight write task described in spec.md §4.4: it
// keeps writing until pending is drained, handling both the
// target-superseded case (pending changed while we were writing) and the
// target-withdrawn case (pending was removed while we were writing, which
// must be reverted).
func (f *Forwarder) writeLoop(device string, state devicestate.State) {
    for {
        if f.ctx.Err() != nil {
            f.mu.Lock()
            f.inflight = false
            f.reportLocked()
            f.mu.Unlock()
            return
        }

        succeeded := f.tryOrWait(device, state)

        f.mu.Lock()

        if f.disposed {
            f.inflight = false
            f.reportLocked()
            f.mu.Unlock()
            return
        }

        if succeeded {
            if target, ok := f.pending[device]; ok {
                if state == target {
                    delete(f.pending, device)
                }
                // else: leave pending[device] = target, redo next iteration.
            } else {
                // Withdrawn while we were writing: restore the pre-write
                // current so the next write reverts the PBX back to it.
                // This restore must read f.current[device] before the
                // following line overwrites it — the ordering is load-
                // bearing, not incidental.
                f.pending[device] = f.current[device]
            }
            f.current[device] = state
        }

        f.reportLocked()

        if len(f.pending) == 0 {
            f.inflight = false
            f.reportLocked()
            f.mu.Unlock()
            return
        }

        device, state = pickAny(f.pending)
        f.mu.Unlock()
    }
}

// tryOrWait runs one write attempt; on TransportError/ProtocolError it
// logs, sleeps retryInterval (cancellable), and reports failure rather
// than propagating, per spec.md §7 — a failed write must not tear down
// the session.
func (f *Forwarder) tryOrWait(device string, state devicestate.State) bool {
    start := time.Now()
    err := f.write(f.ctx, device, state)
    elapsed := time.Since(start).Seconds()

    if err == nil {
        if f.metrics != nil {
            f.metrics.ObserveWrite(f.server, "success", elapsed)
        }
        return true
    }

    if f.ctx.Err() != nil {
        return false
    }

    if f.metrics != nil {
        f.metrics.ObserveWrite(f.server, "failure", elapsed)
    }

    logger.WithFields(logrus.Fields{
        "server": f.server,
        "device": device,
        "state":  state.String(),
    }).WithError(err).Warn("device state write failed, will retry")

    select {
    case <-time.After(f.retryInterval):
    case <-f.ctx.Done():
    }

    return false
}

// reportLocked pushes the current pending/inflight gauges to Metrics. Must
// be called with f.mu held.
func (f *Forwarder) reportLocked() {
    if f.metrics == nil {
        return
    }
    f.metrics.SetPendingDevices(f.server, len(f.pending))
    f.metrics.SetInflight(f.server, f.inflight)
}

// pickAny returns an arbitrary entry of pending. The specification does
// not require a deterministic tie-break: every entry is eventually
// drained, and the registry re-delivers anything that regresses.
func pickAny(pending map[string]devicestate.State) (string, devicestate.State) {
    for d, s := range pending {
        return d, s
    }
    panic("forwarder: pickAny called on empty pending map")
}
