// Package health serves liveness and readiness over HTTP, routed with
// gorilla/mux, fanning concurrent checks out to a result channel.
package health

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/mux"

    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// Checker reports whether a dependency is healthy.
type Checker interface {
    Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Response is the JSON body of a liveness/readiness probe.
type Response struct {
    Status    string                 `json:"status"`
    Timestamp time.Time              `json:"timestamp"`
    Checks    map[string]CheckResult `json:"checks,omitempty"`
    TotalTime string                 `json:"total_time,omitempty"`
}

// CheckResult is one named check's outcome.
type CheckResult struct {
    Status   string `json:"status"`
    Error    string `json:"error,omitempty"`
    Duration string `json:"duration"`
}

// Service exposes liveness and readiness endpoints.
type Service struct {
    mu          sync.RWMutex
    liveChecks  map[string]Checker
    readyChecks map[string]Checker
    server      *http.Server
}

// New builds a Service listening on port, with liveness mounted at
// livenessPath and readiness at readinessPath.
func New(port int, livenessPath, readinessPath string) *Service {
    s := &Service{
        liveChecks:  make(map[string]Checker),
        readyChecks: make(map[string]Checker),
    }

    router := mux.NewRouter()
    router.HandleFunc(livenessPath, s.handleLiveness).Methods("GET")
    router.HandleFunc(readinessPath, s.handleReadiness).Methods("GET")

    s.server = &http.Server{
        Addr:         fmt.Sprintf(":%d", port),
        Handler:      router,
        ReadTimeout:  10 * time.Second,
        WriteTimeout: 10 * time.Second,
    }

    return s
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Service) Start() error {
    logger.WithField("addr", s.server.Addr).Info("health service started")
    err := s.server.ListenAndServe()
    if err == http.ErrServerClosed {
        return nil
    }
    return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Service) Stop() error {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    return s.server.Shutdown(ctx)
}

// RegisterLivenessCheck adds a named liveness check.
func (s *Service) RegisterLivenessCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.liveChecks[name] = check
}

// RegisterReadinessCheck adds a named readiness check, e.g. "ami-login:<server>".
func (s *Service) RegisterReadinessCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.readyChecks[name] = check
}

func (s *Service) handleLiveness(w http.ResponseWriter, r *http.Request) {
    s.mu.RLock()
    checks := cloneChecks(s.liveChecks)
    s.mu.RUnlock()
    runChecks(w, r, checks)
}

func (s *Service) handleReadiness(w http.ResponseWriter, r *http.Request) {
    s.mu.RLock()
    checks := cloneChecks(s.readyChecks)
    s.mu.RUnlock()
    runChecks(w, r, checks)
}

func cloneChecks(in map[string]Checker) map[string]Checker {
    out := make(map[string]Checker, len(in))
    for k, v := range in {
        out[k] = v
    }
    return out
}

func runChecks(w http.ResponseWriter, r *http.Request, checks map[string]Checker) {
    ctx := r.Context()
    start := time.Now()

    response := Response{
        Status:    "ok",
        Timestamp: start,
        Checks:    make(map[string]CheckResult, len(checks)),
    }

    type named struct {
        name   string
        result CheckResult
    }

    var wg sync.WaitGroup
    results := make(chan named, len(checks))

    for name, check := range checks {
        wg.Add(1)
        go func(n string, c Checker) {
            defer wg.Done()
            checkStart := time.Now()
            err := c.Check(ctx)
            result := CheckResult{Status: "ok", Duration: time.Since(checkStart).String()}
            if err != nil {
                result.Status = "failed"
                result.Error = err.Error()
            }
            results <- named{n, result}
        }(name, check)
    }

    go func() {
        wg.Wait()
        close(results)
    }()

    for res := range results {
        response.Checks[res.name] = res.result
        if res.result.Status != "ok" {
            response.Status = "failed"
        }
    }

    response.TotalTime = time.Since(start).String()

    w.Header().Set("Content-Type", "application/json")
    if response.Status != "ok" {
        w.WriteHeader(http.StatusServiceUnavailable)
    }
    json.NewEncoder(w).Encode(response)
}
