package taxflow

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkowalczyk/taxflow/internal/config"
	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/engine"
	"github.com/mkowalczyk/taxflow/internal/migrations"
	"github.com/mkowalczyk/taxflow/internal/repository"
	"github.com/mkowalczyk/taxflow/internal/retryqueue"
	"github.com/mkowalczyk/taxflow/internal/templates"
	"github.com/mkowalczyk/taxflow/internal/workflow"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dependencies are the boundary collaborators the core delegates to. The
// HTTP layer, invoicing CRUD and the KSeF gateway all live outside this
// module.
type Dependencies struct {
	Collaborators engine.Collaborators
	Access        engine.AccessChecker
	Audit         engine.AuditRecorder
	Failures      retryqueue.FailureMarker
	Notifier      retryqueue.Notifier
}

// App exposes the wired core to the embedding process.
type App struct {
	Engine    *engine.Engine
	Queue     *retryqueue.Queue
	Worker    *retryqueue.Worker
	Templates *templates.Service

	db *sql.DB
}

// Close releases the database handle.
func (a *App) Close() error { return a.db.Close() }

// Start opens the database, runs migrations, wires the engine, retry queue
// and template service, and launches the queue worker plus the metrics
// listener. It returns once everything is running; the caller owns ctx.
func Start(ctx context.Context, deps Dependencies) (*App, error) {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE {
		panic("TAXFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	switch databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		db = setupPostgresDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		db = setupSqlLiteDatabase()
	case config.DATABASE_TYPE_MYSQL:
		db = setupMysqlDatabase()
	}

	clock := core.NewRealClock()
	instanceRepo := repository.NewWorkflowInstanceRepository(db, clock)
	retryRepo := repository.NewRetryTaskRepository(db, clock)
	templateRepo := repository.NewStepTemplateRepository(db, clock)

	registry := workflow.NewRegistry()
	dispatcher := engine.NewDispatcher(deps.Collaborators, config.GetSystemSettingDuration(config.SUBMISSION_TIMEOUT))

	backoff := retryqueue.Backoff{
		Base:      config.GetSystemSettingDuration(config.RETRY_BACKOFF_BASE),
		Cap:       config.GetSystemSettingDuration(config.RETRY_BACKOFF_CAP),
		JitterMax: config.GetSystemSettingDuration(config.RETRY_BACKOFF_JITTER_MAX),
	}
	queue := retryqueue.NewQueue(retryRepo, backoff, deps.Failures, deps.Notifier, clock)

	eng := engine.NewEngine(
		registry,
		dispatcher,
		instanceRepo,
		templateRepo,
		queue,
		deps.Access,
		deps.Audit,
		clock,
		config.GetSystemSettingInteger(config.RETRY_MAX_ATTEMPTS),
	)

	worker := retryqueue.NewWorker(
		queue,
		receiptSubmitter{deps.Collaborators.Submitter},
		config.GetSystemSettingInteger(config.RETRY_BATCH_SIZE),
		config.GetSystemSettingDuration(config.RETRY_POLL_INTERVAL),
		config.GetSystemSettingDuration(config.SUBMISSION_TIMEOUT),
	)
	go worker.Start(ctx)

	go serveMetrics(ctx)

	return &App{
		Engine:    eng,
		Queue:     queue,
		Worker:    worker,
		Templates: templates.NewService(templateRepo, instanceRepo, registry, clock),
		db:        db,
	}, nil
}

// receiptSubmitter adapts the engine-facing submitter to the narrower shape
// the queue worker needs.
type receiptSubmitter struct {
	submitter engine.InvoiceSubmitter
}

func (s receiptSubmitter) SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
	receipt, err := s.submitter.SubmitInvoice(ctx, tenantID, invoiceID, invoiceNumber)
	if err != nil {
		return "", err
	}
	return receipt.ReferenceNumber, nil
}

func serveMetrics(ctx context.Context) {
	addr := config.GetSystemSettingString(config.METRICS_LISTEN_ADDR)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	slog.Info("Starting metrics server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Metrics server failed", "error", err)
	}
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("TAXFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("TAXFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("TAXFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("TAXFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("TAXFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
