package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/dosetrack/dosetrack/internal/app"
	"github.com/dosetrack/dosetrack/internal/app/httpapi"
	"github.com/dosetrack/dosetrack/internal/app/storage/postgres"
	"github.com/dosetrack/dosetrack/internal/config"
	"github.com/dosetrack/dosetrack/internal/middleware"
	"github.com/dosetrack/dosetrack/internal/platform/database"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	core       *app.Application
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs a fully wired application from the config at
// configPath. An empty path uses defaults plus environment overrides.
func NewApplication(ctx context.Context, configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	stores, db, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	core, err := app.New(stores, app.Config{
		ReminderSchedule:   cfg.Reminders.Schedule,
		ReminderWebhookURL: cfg.Reminders.WebhookURL,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	audit, err := httpapi.NewAuditLog(cfg.Audit.MaxEntries, cfg.Audit.File)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("configure audit log: %w", err)
	}

	handler := httpapi.NewServer(core, httpapi.ServerOptions{
		AuthTokens: cfg.Auth.Tokens,
		Audit:      audit,
	})

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		var limiter middleware.Limiter
		if cfg.Redis.Addr != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			limiter = middleware.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window)
			log.WithField("addr", cfg.Redis.Addr).Info("using redis rate limiter")
		} else {
			local := middleware.NewLocalLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
			local.StartCleanup(5 * time.Minute)
			limiter = local
			log.Info("using in-process rate limiter")
		}
		handler = middleware.RateLimit(limiter, log)(handler)
	}

	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Handler(handler)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		core:       core,
		httpServer: httpSrv,
		db:         db,
		redis:      redisClient,
	}, nil
}

// Run starts the background services and the HTTP server and blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services, and
// closes external connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.core.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; using in-memory stores")
		return app.Stores{}, nil, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := database.Open(openCtx, cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	if cfg.Database.Migrate {
		if err := database.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
	}

	store := postgres.New(db)
	return app.Stores{Users: store, Injections: store}, db, nil
}
