// Package worker drives a single server through login -> seed ->
// poll-and-update, and supervises one such loop per configured server.
package worker

import (
    "context"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/cloudtel/asterisk-blf-sync/internal/amiclient"
    "github.com/cloudtel/asterisk-blf-sync/internal/config"
    "github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
    "github.com/cloudtel/asterisk-blf-sync/internal/extmap"
    "github.com/cloudtel/asterisk-blf-sync/internal/forwarder"
    "github.com/cloudtel/asterisk-blf-sync/internal/registry"
    apperrors "github.com/cloudtel/asterisk-blf-sync/pkg/errors"
    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// ReadinessReporter lets the worker announce the one fact the health
// service cares about: has this server completed a successful login yet.
type ReadinessReporter interface {
    MarkLoggedIn(server string)
}

// Loop drives one server's session lifecycle forever, until ctx is
// cancelled.
type Loop struct {
    cfg      config.ServerConfig
    client   *amiclient.Client
    reg      *registry.Registry
    metrics  forwarder.Metrics
    ready    ReadinessReporter
    username string
    secret   string
}

// NewLoop builds the per-server worker loop. client should already be
// configured with cfg's base URL, timeout and extmap.Mapper.
func NewLoop(cfg config.ServerConfig, client *amiclient.Client, reg *registry.Registry, metrics forwarder.Metrics, ready ReadinessReporter) *Loop {
    return &Loop{
        cfg:      cfg,
        client:   client,
        reg:      reg,
        metrics:  metrics,
        ready:    ready,
        username: cfg.Username,
        secret:   cfg.Secret,
    }
}

// Run blocks until ctx is cancelled or a session fails with a
// non-retryable error, and returns ctx's error or that session error.
// Retryable session faults are retried internally via TryOrWait.
func (l *Loop) Run(ctx context.Context) error {
    ctx = logger.ContextWithServer(ctx, l.cfg.Name)

    for {
        if err := ctx.Err(); err != nil {
            return err
        }

        // session never returns nil on success (it loops forever
        // internally); reaching here always means it failed. A retryable
        // fault has already been logged and slept by tryOrWait, and we
        // loop to reconnect. Anything else (config/internal error, or
        // cancellation) propagates and ends this worker.
        if err := tryOrWait(ctx, l.cfg.RetryInterval, l.cfg.Name, func() error {
            return l.session(ctx)
        }); err != nil {
            return err
        }
    }
}

// session is one login-to-fault lifetime: login, seed a Forwarder from a
// fresh device listing, prime the registry from this server's extension
// states, then long-poll forever.
func (l *Loop) session(ctx context.Context) error {
    if err := l.client.Login(ctx, l.username, l.secret); err != nil {
        return err
    }

    logger.WithContext(ctx).Info("AMI login succeeded")
    if l.ready != nil {
        l.ready.MarkLoggedIn(l.cfg.Name)
    }

    seed, err := l.client.ListDeviceStates(ctx)
    if err != nil {
        return err
    }

    fw := forwarder.New(ctx, l.cfg.Name, seed, l.writeDevice, l.cfg.RetryInterval, l.reg, l.metrics)
    defer fw.Dispose()

    initial, err := l.client.ListExtensionStates(ctx)
    if err != nil {
        return err
    }
    l.reg.Update(toBatch(initial))

    for {
        if err := ctx.Err(); err != nil {
            return err
        }

        changes, err := l.client.WaitForExtensionChanges(ctx)
        if err != nil {
            return err
        }
        l.reg.Update(toBatch(changes))
    }
}

func (l *Loop) writeDevice(ctx context.Context, device string, state devicestate.State) error {
    return l.client.SetDeviceState(ctx, device, state)
}

func toBatch(m map[string]devicestate.State) registry.Batch {
    return registry.Batch(m)
}

// tryOrWait runs op; on a retryable AppError it logs with server as
// context, sleeps interval (cancellable), and returns nil so the caller's
// loop continues. Any other error (including ctx cancellation) propagates.
func tryOrWait(ctx context.Context, interval time.Duration, server string, op func() error) error {
    err := op()
    if err == nil {
        return nil
    }

    if ctx.Err() != nil {
        return ctx.Err()
    }

    if !apperrors.IsRetryable(err) {
        return err
    }

    logger.WithFields(logrus.Fields{"server": server}).WithError(err).Warn("session failed, retrying")

    select {
    case <-time.After(interval):
    case <-ctx.Done():
        return ctx.Err()
    }

    return nil
}

// ExtMapperFor builds the extmap.Mapper for a server config, factored out
// so main can construct the amiclient.Client before handing it to NewLoop.
func ExtMapperFor(cfg config.ServerConfig) *extmap.Mapper {
    return extmap.New(cfg.CompiledPattern, cfg.DeviceFormat)
}
