package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"librarian/internal/api"
	"librarian/internal/catalog"
	"librarian/internal/config"
	"librarian/internal/ledger"
	"librarian/internal/members"
	"librarian/internal/storage"
	"librarian/internal/storage/sqlite"
	"librarian/internal/storage/stubs"
)

// App represents the application.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     storage.Storage
	server *http.Server
}

// New creates and initializes a new application instance.
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting librarian")

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	app.initHTTPServer()

	return app, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.DevLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// initDatabase initializes the storage backend.
func (a *App) initDatabase() error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using in-memory mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Opening SQLite database", zap.String("path", a.config.SQLitePath))
		sqliteDB, err := sqlite.NewSQLiteDB(a.config.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open SQLite database: %w", err)
		}
		db = sqliteDB
	}

	if err := db.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized")

	a.db = db
	return nil
}

// initHTTPServer wires the services and the HTTP API.
func (a *App) initHTTPServer() {
	loans := ledger.New(a.db, a.config.LoanPeriodDays, a.config.FinePerDay, a.logger)
	books := catalog.New(a.db, a.logger)
	memberSvc := members.New(a.db, a.logger)

	mux := http.NewServeMux()
	api.NewServer(books, memberSvc, loans, a.db, a.logger).RegisterRoutes(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		a.logger.Info("Shutting down")
	case err := <-errChan:
		a.logger.Error("HTTP server error", zap.Error(err))
		a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
