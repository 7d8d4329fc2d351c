// Command blfsyncd mirrors Asterisk extension state into Custom: device
// state across one or more PBX servers.
package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/fatih/color"
    "github.com/olekukonko/tablewriter"
    "github.com/spf13/cobra"

    "github.com/cloudtel/asterisk-blf-sync/internal/amiclient"
    "github.com/cloudtel/asterisk-blf-sync/internal/config"
    "github.com/cloudtel/asterisk-blf-sync/internal/health"
    "github.com/cloudtel/asterisk-blf-sync/internal/metrics"
    "github.com/cloudtel/asterisk-blf-sync/internal/registry"
    "github.com/cloudtel/asterisk-blf-sync/internal/worker"
    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// exitWorkerFailure and exitConfigFailure are the distinguished non-zero
// codes spec.md §6 requires: a worker terminating unexpectedly and a
// config/startup failure must be distinguishable by the process exit
// code.
const (
    exitWorkerFailure = 1
    exitConfigFailure = 2
)

var (
    green = color.New(color.FgGreen).SprintFunc()
    red   = color.New(color.FgRed).SprintFunc()
)

func main() {
    var configFile string

    rootCmd := &cobra.Command{
        Use:           "blfsyncd",
        Short:         "Mirror Asterisk extension state into Custom: device state",
        Long:          "blfsyncd reconciles BLF device state across one or more Asterisk PBX servers via AMI over HTTP.",
        SilenceErrors: true,
    }
    rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")

    rootCmd.AddCommand(
        newRunCommand(&configFile),
        newValidateConfigCommand(&configFile),
    )

    if err := rootCmd.Execute(); err != nil {
        code := exitConfigFailure
        if ee, ok := err.(errExit); ok {
            code = ee.code
        } else {
            fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        }
        os.Exit(code)
    }
}

func newRunCommand(configFile *string) *cobra.Command {
    var verbose bool

    cmd := &cobra.Command{
        Use:   "run",
        Short: "Start the reconciliation daemon",
        RunE: func(cmd *cobra.Command, args []string) error {
            return runDaemon(*configFile, verbose)
        },
    }
    cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

    return cmd
}

func newValidateConfigCommand(configFile *string) *cobra.Command {
    return &cobra.Command{
        Use:   "validate-config",
        Short: "Load and validate configuration without starting the daemon",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(*configFile)
            if err != nil {
                fmt.Fprintln(os.Stderr, red(err.Error()))
                os.Exit(exitConfigFailure)
            }

            printServerTable(cfg.Servers)
            fmt.Println(green("configuration is valid"))
            return nil
        },
    }
}

func printServerTable(servers []config.ServerConfig) {
    table := tablewriter.NewWriter(os.Stdout)
    table.SetHeader([]string{"Name", "Host", "Port", "Prefix", "Timeout", "Retry Interval", "Extension Pattern", "Device Format"})

    for _, s := range servers {
        table.Append([]string{
            s.Name,
            s.Host,
            fmt.Sprintf("%d", s.Port),
            s.Prefix,
            s.Timeout.String(),
            s.RetryInterval.String(),
            s.ExtensionPattern,
            s.DeviceFormat,
        })
    }

    table.Render()
}

func runDaemon(configFile string, verbose bool) error {
    cfg, err := config.Load(configFile)
    if err != nil {
        fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
        return errExit{exitConfigFailure}
    }

    logLevel := cfg.Logging.Level
    if verbose {
        logLevel = "debug"
    }

    logFields := make(map[string]interface{}, len(cfg.Logging.Fields))
    for k, v := range cfg.Logging.Fields {
        logFields[k] = v
    }

    if err := logger.Init(logger.Config{
        Level:  logLevel,
        Format: cfg.Logging.Format,
        Output: cfg.Logging.Output,
        File: logger.FileConfig{
            Enabled:    cfg.Logging.File.Enabled,
            Path:       cfg.Logging.File.Path,
            MaxSize:    cfg.Logging.File.MaxSize,
            MaxBackups: cfg.Logging.File.MaxBackups,
            MaxAge:     cfg.Logging.File.MaxAge,
            Compress:   cfg.Logging.File.Compress,
        },
        Fields: logFields,
    }); err != nil {
        fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
        return errExit{exitConfigFailure}
    }

    reg := registry.New()
    metricsCollector := metrics.New()
    healthSvc := health.New(cfg.Health.Port, cfg.Health.LivenessPath, cfg.Health.ReadinessPath)
    readiness := newReadinessTracker()

    healthSvc.RegisterLivenessCheck("alive", health.CheckFunc(func(context.Context) error { return nil }))

    loops := make(map[string]*worker.Loop, len(cfg.Servers))
    for _, sc := range cfg.Servers {
        sc := sc
        mapper := worker.ExtMapperFor(sc)
        baseURL := fmt.Sprintf("http://%s/%s", sc.Addr(), sc.Prefix)
        client := amiclient.New(baseURL, sc.Timeout, mapper)
        loops[sc.Name] = worker.NewLoop(sc, client, reg, metricsCollector, readiness)

        healthSvc.RegisterReadinessCheck("ami-login:"+sc.Name, readiness.checkerFor(sc.Name))
    }

    sup := worker.NewSupervisor(loops)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
    go func() {
        <-sigCh
        logger.Info("shutdown signal received")
        cancel()
    }()

    if cfg.Metrics.Enabled {
        go func() {
            if err := metricsCollector.ServeHTTP(cfg.Metrics.Port, cfg.Metrics.Path); err != nil && err != http.ErrServerClosed {
                logger.WithError(err).Error("metrics server failed")
            }
        }()
    }

    if cfg.Health.Enabled {
        go func() {
            if err := healthSvc.Start(); err != nil {
                logger.WithError(err).Error("health service failed")
            }
        }()
        defer healthSvc.Stop()
    }

    subscriberTicker := time.NewTicker(10 * time.Second)
    defer subscriberTicker.Stop()
    go func() {
        for {
            select {
            case <-ctx.Done():
                return
            case <-subscriberTicker.C:
                metricsCollector.SetRegistrySubscribers(reg.SubscriberCount())
            }
        }
    }()

    if err := sup.Run(ctx); err != nil {
        logger.WithError(err).Error("supervisor exiting due to worker failure")
        return errExit{exitWorkerFailure}
    }

    logger.Info("shutdown complete")
    return nil
}

// errExit lets RunE report a specific process exit code without cobra
// printing its own "Error: ..." line twice (the caller already did).
type errExit struct{ code int }

func (e errExit) Error() string { return fmt.Sprintf("exit code %d", e.code) }
