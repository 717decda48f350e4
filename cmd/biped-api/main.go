package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/upb/biped-api/app"
	"github.com/upb/biped-api/config"
	"github.com/upb/biped-api/internal/observability"
	"github.com/upb/biped-api/routes"
	"github.com/upb/biped-api/services/breaker"
	"github.com/upb/biped-api/services/providers"
)

const usage = `usage: biped-api [command]

commands:
  serve                  run the HTTP server (default)
  init-db                create the inference log schema
  test-connections       check the database, cache and every configured provider
  clear-cache            drop every cached completion
  show-circuit-breakers  print circuit breaker states as JSON
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes one command. Output meant for the operator goes to out; logs go to stderr.
func run(ctx context.Context, args []string, out io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve", "init-db", "test-connections", "clear-cache", "show-circuit-breakers":
	case "help", "-h", "--help":
		_, _ = io.WriteString(out, usage)
		return nil
	default:
		_, _ = io.WriteString(out, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("failed to close dependencies", zap.Error(err))
		}
	}()

	switch command {
	case "init-db":
		return initDB(ctx, deps)
	case "test-connections":
		return testConnections(ctx, deps, out)
	case "clear-cache":
		cleared, err := deps.Cache.Clear(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]int{"cleared": cleared})
	case "show-circuit-breakers":
		return showCircuitBreakers(deps, out)
	}

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}
	return serve(ctx, deps, ln)
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains in-flight requests
func serve(ctx context.Context, deps *app.Dependencies, ln net.Listener) error {
	cfg := deps.Config
	logger := deps.Logger

	srv := &http.Server{
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http_server")),
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	deps.StartWorkers(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", cfg.Server.TLS.Enabled),
			zap.String("environment", cfg.Environment))

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ServeTLS(ln, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func initDB(ctx context.Context, deps *app.Dependencies) error {
	if deps.DB == nil {
		return errors.New("database is not configured; set DATABASE_URL or DB_HOST")
	}
	return deps.TxManager.InTransaction(ctx, deps.DB.InitSchema)
}

// connectionResult is one line of the test-connections report
type connectionResult struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// testConnections pings the database and cache and makes a one-token call per
// provider that has a credential. It fails when any check fails.
func testConnections(ctx context.Context, deps *app.Dependencies, out io.Writer) error {
	report := make(map[string]connectionResult)

	if deps.DB == nil {
		report["database"] = connectionResult{OK: true, Skipped: true, Detail: "not configured"}
	} else if err := deps.DB.HealthCheck(ctx); err != nil {
		report["database"] = connectionResult{Detail: err.Error()}
	} else {
		report["database"] = connectionResult{OK: true}
	}

	if err := deps.Cache.Ping(ctx); err != nil {
		report["cache"] = connectionResult{Detail: err.Error()}
	} else {
		report["cache"] = connectionResult{OK: true, Detail: deps.Cache.Store().Name()}
	}

	for _, id := range deps.Providers.Providers() {
		report[id.String()] = testProvider(ctx, deps.Providers, id)
	}

	if err := writeJSON(out, report); err != nil {
		return err
	}
	for name, r := range report {
		if !r.OK {
			return fmt.Errorf("%s connection failed", name)
		}
	}
	return nil
}

func testProvider(ctx context.Context, registry *providers.Registry, id providers.ID) connectionResult {
	if !registry.HasCredential(id) {
		return connectionResult{OK: true, Skipped: true, Detail: "no API key"}
	}

	handle, err := registry.GetOrCreate(id, "", providers.Overrides{})
	if err != nil {
		return connectionResult{Detail: err.Error()}
	}

	res := handle.CompleteText(ctx, "ping", providers.Options{MaxTokens: 1})
	if !res.Succeeded {
		detail := string(res.FailureKind())
		if res.Failure != nil {
			detail += ": " + res.Failure.Message
		}
		return connectionResult{Detail: detail}
	}
	return connectionResult{OK: true, Detail: res.Model}
}

func showCircuitBreakers(deps *app.Dependencies, out io.Writer) error {
	// breakers are created lazily; make the configured ones visible
	for _, name := range []string{breaker.OpenAI, breaker.Anthropic, breaker.Database} {
		deps.Breakers.Get(name)
	}
	return writeJSON(out, map[string]interface{}{"circuit_breakers": deps.Breakers.Snapshot()})
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
