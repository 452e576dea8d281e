// Package nagare is the public API for embedding the Nagare flow server.
//
// Consumers construct the server with options and run it until their
// context is cancelled:
//
//	app, err := nagare.New(ctx,
//	    nagare.WithVersion(version),
//	    nagare.WithLogger(logger),
//	    nagare.WithConnector("crm", myCRMConnector{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way around. Public
// types (Connector, ConnectorResult) are standalone; the adapters that
// translate them live in connector.go.
package nagare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/nagare/api"
	"github.com/ashita-ai/nagare/internal/artifact"
	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/config"
	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/mcp"
	"github.com/ashita-ai/nagare/internal/ratelimit"
	"github.com/ashita-ai/nagare/internal/server"
	"github.com/ashita-ai/nagare/internal/service/executor"
	"github.com/ashita-ai/nagare/internal/service/flows"
	"github.com/ashita-ai/nagare/internal/service/runs"
	"github.com/ashita-ai/nagare/internal/storage"
	"github.com/ashita-ai/nagare/internal/telemetry"
	"github.com/ashita-ai/nagare/migrations"
)

const (
	shutdownHTTPTimeout  = 15 * time.Second
	shutdownDrainTimeout = 30 * time.Second
)

// App is the Nagare server lifecycle. Construct with New, run with Run.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	registry     *connector.Registry
	artifacts    *artifact.Store // nil when the version mirror is disabled
	executor     *executor.Executor
	limiter      ratelimit.Limiter
	authLimiter  ratelimit.Limiter
	broker       *server.Broker // nil when no notify connection
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, connects to the database, runs migrations and
// wires every subsystem. It starts no goroutines and accepts no
// connections; call Run for that.
func New(ctx context.Context, opts ...Option) (_ *App, err error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}

	logger.Info("nagare starting", "version", version, "port", cfg.Port)

	// Everything opened below is closed again if a later step fails.
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	cleanup = append(cleanup, func() { _ = otelShutdown(context.Background()) })

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	cleanup = append(cleanup, func() { db.Close(context.Background()) })

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Connectors: the built-in set plus any registered through options.
	regs, err := connector.Builtins(ctx, connector.BuiltinConfig{
		DataDir:      cfg.DataDir,
		ScriptsDir:   cfg.ScriptsDir,
		CodeTimeout:  cfg.CodeTimeout,
		SQLDSN:       cfg.SQLDSN,
		DocumentsURL: cfg.DocumentsURL,
		SMTP: connector.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		},
		NotifyChannel: storage.ChannelNotifications,
	}, db, logger)
	if err != nil {
		return nil, fmt.Errorf("connectors: %w", err)
	}
	for _, ext := range o.connectors {
		regs = append(regs, connector.Registration{Name: ext.name, Connector: &connectorAdapter{c: ext.connector}})
	}
	registry, err := connector.NewRegistry(logger, db, regs...)
	if err != nil {
		for _, r := range regs {
			if c, ok := r.Connector.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
		return nil, fmt.Errorf("connectors: %w", err)
	}
	cleanup = append(cleanup, func() { _ = registry.Close() })
	if err := registry.Sync(ctx); err != nil {
		// Discovery rows are advisory; dispatch never reads them.
		logger.Warn("connector registrations not persisted", "error", err)
	}
	logger.Info("connectors registered", "names", registry.Names())

	var artifacts *artifact.Store
	if cfg.ArtifactsURL != "" {
		artifacts, err = artifact.Open(ctx, cfg.ArtifactsURL)
		if err != nil {
			return nil, fmt.Errorf("artifacts: %w", err)
		}
		cleanup = append(cleanup, func() { _ = artifacts.Close() })
		logger.Info("version mirror: enabled", "url", cfg.ArtifactsURL)
	} else {
		logger.Info("version mirror: disabled (no NAGARE_ARTIFACTS_URL)")
	}

	flowSvc := flows.New(db, artifacts, logger)
	tracker := runs.New(db, logger)
	exec := executor.New(flowSvc, tracker, registry, executor.Config{
		EnactRetry:     cfg.EnactStepRetry,
		RetryBaseDelay: cfg.StepRetryBaseDelay,
	}, logger)
	if !cfg.EnactStepRetry {
		logger.Info("step retry: log only (NAGARE_ENACT_STEP_RETRY=false)")
	}

	mcpSrv := mcp.New(flowSvc, tracker, exec, registry, logger, version)

	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.ExecuteRate > 0 {
		limiter = ratelimit.New(cfg.ExecuteRate, cfg.ExecuteBurst)
		logger.Info("execute rate limiting: enabled", "rate", cfg.ExecuteRate, "burst", cfg.ExecuteBurst)
	} else {
		logger.Info("execute rate limiting: disabled")
	}
	// Token issuance runs an Argon2 verification per request.
	authLimiter := ratelimit.New(1, 5)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Flows:               flowSvc,
		Tracker:             tracker,
		Executor:            exec,
		Registry:            registry,
		Logger:              logger,
		Limiter:             limiter,
		AuthLimiter:         authLimiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AuthDisabled:        cfg.AuthDisabled,
		OpenAPISpec:         api.OpenAPISpec,
	})
	if cfg.AuthDisabled {
		logger.Warn("authentication disabled: every request acts as admin")
	}

	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		registry:     registry,
		artifacts:    artifacts,
		executor:     exec,
		limiter:      limiter,
		authLimiter:  authLimiter,
		broker:       broker,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run serves HTTP (and the SSE broker when configured) until ctx is
// cancelled or the server fails, then shuts down. Callers should not call
// Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.broker != nil {
		g.Go(func() error {
			// Run events are best-effort; losing them must not stop the API.
			if err := a.broker.Start(gctx); err != nil {
				a.logger.Error("SSE broker stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting requests, waits for in-flight and background
// runs to finish, then releases connectors, the mirror bucket, the
// database and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("nagare shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	var drainErr error
	drainCtx, drainCancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	if err := a.executor.Drain(drainCtx); err != nil {
		a.logger.Error("background runs still in flight at shutdown", "error", err)
		drainErr = err
	}
	drainCancel()

	if err := a.registry.Close(); err != nil {
		a.logger.Warn("connector close error", "error", err)
	}
	if a.artifacts != nil {
		_ = a.artifacts.Close()
	}
	_ = a.limiter.Close()
	_ = a.authLimiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("nagare stopped")
	return drainErr
}
