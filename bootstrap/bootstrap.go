// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metergate/metergate/adapters/auth"
	"github.com/metergate/metergate/adapters/clock"
	"github.com/metergate/metergate/adapters/metrics"
	"github.com/metergate/metergate/adapters/postgres"
	"github.com/metergate/metergate/adapters/sqlite"
	"github.com/metergate/metergate/app"
	"github.com/metergate/metergate/config"
	"github.com/metergate/metergate/domain/plan"
	"github.com/metergate/metergate/ports"
	"github.com/metergate/metergate/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Meter      *app.MeterService

	holder  *config.Holder
	closeDB func()
}

// New creates and initializes the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	return build(cfg, nil)
}

// NewWithHotReload loads configuration from path and watches it for
// changes. Plan table edits take effect without a restart; fields listed
// by config.NonReloadableFields still require one.
func NewWithHotReload(path string) (*App, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}

	a, err := build(holder.Get(), holder)
	if err != nil {
		return nil, err
	}

	holder.SetMetrics(a.Metrics)
	holder.OnChange(func(cfg *config.Config) {
		a.Meter.UpdatePlans(cfg.PlanTable(), plan.SlugCommunity)
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch disabled")
	}
	holder.WatchSignals()

	return a, nil
}

func build(cfg *config.Config, holder *config.Holder) (*App, error) {
	logger := setupLogger(cfg.Logging)

	logger.Info().Msg("initializing metergate")

	a := &App{
		Logger: logger,
		holder: holder,
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(prometheus.DefaultRegisterer)
		logger.Info().Msg("prometheus metrics enabled")
	}

	meterStore, userStore, keyStore, err := a.openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a.Meter = app.NewMeterService(app.MeterDeps{
		Store:   meterStore,
		Users:   userStore,
		Clock:   clock.Real{},
		Logger:  logger,
		Metrics: a.Metrics,
	}, cfg.PlanTable(), plan.SlugCommunity)

	resolver := auth.NewKeyResolver(keyStore, userStore, clock.Real{}, cfg.Auth.Header, cfg.Auth.KeyPrefix)

	handler := web.New(web.Deps{
		Meter:    a.Meter,
		Resolver: resolver,
		Logger:   logger,
		Metrics:  a.Metrics,
	}, web.Config{
		IngestSecret:    cfg.Ingest.Secret,
		ContactSalesURL: cfg.Billing.ContactSalesURL,
		MetricsPath:     cfg.Metrics.Path,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info().Str("addr", addr).Msg("http server configured")
	return a, nil
}

// openStores connects to the configured database, runs migrations, and
// returns the store set.
func (a *App) openStores(cfg *config.Config) (ports.MeterStore, ports.UserStore, ports.KeyStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.closeDB = db.Close
		a.Logger.Info().Str("driver", "postgres").Msg("database initialized")
		return postgres.NewMeterStore(db), postgres.NewUserStore(db), postgres.NewKeyStore(db), nil

	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.closeDB = func() { db.Close() }
		a.Logger.Info().Str("driver", "sqlite").Str("dsn", cfg.Database.DSN).Msg("database initialized")
		return sqlite.NewMeterStore(db), sqlite.NewUserStore(db), sqlite.NewKeyStore(db), nil
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.closeDB != nil {
		a.closeDB()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
