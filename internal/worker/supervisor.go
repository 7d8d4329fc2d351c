package worker

import (
    "context"

    "github.com/sirupsen/logrus"

    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// Supervisor launches one Loop per configured server and awaits the
// first to exit unexpectedly.
type Supervisor struct {
    loops map[string]*Loop
}

// NewSupervisor builds a Supervisor over the given named loops.
func NewSupervisor(loops map[string]*Loop) *Supervisor {
    return &Supervisor{loops: loops}
}

// exit carries one worker's termination back to Run's fan-in.
type exit struct {
    server string
    err    error
}

// Run launches every loop as its own goroutine, each deriving its
// cancellation from ctx, and blocks until either ctx is cancelled (orderly
// shutdown — Run waits for every worker to observe it, then returns nil)
// or any worker exits on its own (Run returns that worker's error
// immediately, leaving the others running under the still-live ctx for the
// caller to cancel).
func (s *Supervisor) Run(ctx context.Context) error {
    results := make(chan exit, len(s.loops))

    for name, loop := range s.loops {
        go func(name string, loop *Loop) {
            err := loop.Run(ctx)
            results <- exit{server: name, err: err}
        }(name, loop)
    }

    remaining := len(s.loops)

    for remaining > 0 {
        select {
        case <-ctx.Done():
            // Orderly shutdown: drain the rest without treating them as
            // failures.
            for remaining > 0 {
                <-results
                remaining--
            }
            return nil

        case res := <-results:
            remaining--
            if ctx.Err() != nil {
                // Raced with cancellation; not a real failure.
                continue
            }
            logger.WithFields(logrus.Fields{"server": res.server}).WithError(res.err).
                Error("worker terminated unexpectedly")
            return res.err
        }
    }

    return nil
}
