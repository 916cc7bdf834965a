/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (.env honored)
  2. Install the slog handler (JSON in production, text otherwise)
  3. Open the SQLite store (leave, accumulation, run and snapshot tables)
  4. Load the payroll configuration document into the in-memory catalog
  5. Build engine, dispatcher, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  Flags override the environment:
  -addr    HTTP listen address (APP_ADDR)
  -db      SQLite database path (DATABASE_PATH), ":memory:" for in-memory
  -config  Payroll configuration JSON (PAYROLL_CONFIG_FILE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with the example configuration and an in-memory database
  ./server -db=":memory:" -config=configs/payroll.example.json

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/memory"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.PayrollConfigFile, "config", cfg.PayrollConfigFile, "Payroll configuration JSON")
	flag.Parse()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	cat := memory.NewCatalog()
	if cfg.PayrollConfigFile != "" {
		doc, err := factory.NewConfigFactory().ParseFile(cfg.PayrollConfigFile)
		if err != nil {
			return err
		}
		doc.LoadCatalog(cat)
		if err := doc.LoadLeave(context.Background(), store.Leave()); err != nil {
			return err
		}
		logger.Info("payroll configuration loaded", "file", cfg.PayrollConfigFile,
			"payrolls", len(doc.Payrolls), "employees", len(doc.Members))
	}

	engine, err := payroll.NewEngine(payroll.Dependencies{
		Directory:     cat,
		Config:        cat,
		Runs:          store.Runs(),
		Snapshots:     store.Snapshots(),
		Accumulations: store.Accumulations(),
		Leave:         store.Leave(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	dispatcher := payroll.NewDispatcher(engine, cfg.DispatchWorkers, logger)

	handler := api.NewHandler(engine, dispatcher, store.Leave(), cat, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "env", cfg.Environment, "db", cfg.DatabasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
