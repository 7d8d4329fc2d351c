// Package registry implements the process-wide Global State Registry: a
// single device -> DeviceState map shared by every per-server Forwarder,
// with broadcast notification so a change observed by one server becomes
// visible to all.
package registry

import (
    "sync"

    "github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
)

// Batch is an unordered set of device updates delivered to subscribers in
// one notification.
type Batch map[string]devicestate.State

// Callback receives a committed batch. It runs while the registry lock is
// held, so it must not block or call back into the registry.
type Callback func(batch Batch)

// Handle identifies a subscription for later Unsubscribe.
type Handle uint64

// Registry is a process-lifetime singleton: a device name -> DeviceState
// map plus its subscriber set. The zero value is not usable; use New.
type Registry struct {
    mu          sync.Mutex
    state       map[string]devicestate.State
    subscribers map[Handle]Callback
    nextHandle  Handle
}

// New returns an empty registry.
func New() *Registry {
    return &Registry{
        state:       make(map[string]devicestate.State),
        subscribers: make(map[Handle]Callback),
    }
}

// Update atomically merges batch into the registry and broadcasts it to
// every subscriber while still holding the lock, so every subscriber
// observes the same sequence of batches in commit order.
func (r *Registry) Update(batch Batch) {
    if len(batch) == 0 {
        return
    }

    r.mu.Lock()
    defer r.mu.Unlock()

    for device, state := range batch {
        r.state[device] = state
    }

    for _, cb := range r.subscribers {
        cb(batch)
    }
}

// Subscribe registers cb and immediately delivers it a snapshot of the
// entire current registry as its first batch, so a late joiner starts
// from a known baseline rather than missing history. While the registry is
// still empty no snapshot is delivered. Returns a Handle for Unsubscribe.
func (r *Registry) Subscribe(cb Callback) Handle {
    r.mu.Lock()
    defer r.mu.Unlock()

    h := r.nextHandle
    r.nextHandle++
    r.subscribers[h] = cb

    if len(r.state) > 0 {
        snapshot := make(Batch, len(r.state))
        for device, state := range r.state {
            snapshot[device] = state
        }
        cb(snapshot)
    }

    return h
}

// Unsubscribe removes the subscription. No further invocations occur
// after Unsubscribe returns.
func (r *Registry) Unsubscribe(h Handle) {
    r.mu.Lock()
    defer r.mu.Unlock()
    delete(r.subscribers, h)
}

// SubscriberCount reports the current number of subscriptions, for the
// blfsync_registry_subscribers gauge.
func (r *Registry) SubscriberCount() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.subscribers)
}
