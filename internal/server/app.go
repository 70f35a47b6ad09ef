// Package server initializes and runs the legator server: it opens the
// database, runs migrations, wires services to the HTTP API, and handles
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/legator/legator/internal/clockx"
	"github.com/legator/legator/internal/logging"
	"github.com/legator/legator/internal/server/config"
	"github.com/legator/legator/internal/server/events"
	"github.com/legator/legator/internal/server/httpapi"
	"github.com/legator/legator/internal/server/repositories/repomanager"
	"github.com/legator/legator/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	router http.Handler
}

func NewApp(cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var sink events.Sink
	if cfg.RedisAddr != "" {
		redisSink, err := events.NewRedisSink(&redis.Options{Addr: cfg.RedisAddr}, cfg.EventStream)
		if err != nil {
			return nil, fmt.Errorf("event stream init error: %w", err)
		}
		sink = redisSink
	} else {
		sink = events.NewMemorySink()
	}

	clock := clockx.Real{}
	vaultService := services.NewVaultService(db, rm, clock, sink, logger)
	recoveryService := services.NewRecoveryService(db, rm, clock, sink, logger)
	userService := services.NewUserService(db, rm, cfg)
	contentService := services.NewContentService(cfg)

	handler := httpapi.NewHandler(vaultService, recoveryService, userService, contentService, logger)
	router := httpapi.SetupRouter(handler, []byte(cfg.SecretKey), logger)

	return &App{config: cfg, logger: logger, db: db, router: router}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, err.Error())
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, err.Error())
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	app.logger.Info(ctx, "server stopped")
}
