package main

import (
    "context"
    "fmt"
    "sync"

    "github.com/cloudtel/asterisk-blf-sync/internal/health"
)

// readinessTracker records, per server, whether the worker has completed
// at least one successful AMI login this process lifetime. It backs the
// "ami-login" readiness check: once true it never reverts to false, since
// the daemon keeps retrying logins forever and a past success is still
// evidence the server is reachable in principle.
type readinessTracker struct {
    mu       sync.RWMutex
    loggedIn map[string]bool
}

func newReadinessTracker() *readinessTracker {
    return &readinessTracker{loggedIn: make(map[string]bool)}
}

// MarkLoggedIn implements worker.ReadinessReporter.
func (t *readinessTracker) MarkLoggedIn(server string) {
    t.mu.Lock()
    defer t.mu.Unlock()
    t.loggedIn[server] = true
}

func (t *readinessTracker) checkerFor(server string) health.Checker {
    return health.CheckFunc(func(context.Context) error {
        t.mu.RLock()
        defer t.mu.RUnlock()
        if !t.loggedIn[server] {
            return fmt.Errorf("server %q has not completed an AMI login yet", server)
        }
        return nil
    })
}
