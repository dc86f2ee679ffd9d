// Command server is the composition root: it wires persistence, cache,
// broadcast, the dynamic config store, the session registry, and the
// charger-facing acceptor and operator-facing control surface together,
// then serves both until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/acceptor"
	"github.com/eva-sean/oye-proxy/internal/broadcast"
	"github.com/eva-sean/oye-proxy/internal/cache"
	dynconfig "github.com/eva-sean/oye-proxy/internal/config"
	"github.com/eva-sean/oye-proxy/internal/control"
	"github.com/eva-sean/oye-proxy/internal/control/middleware"
	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/persistence/postgres"
	"github.com/eva-sean/oye-proxy/internal/registry"
	"github.com/eva-sean/oye-proxy/internal/secrets"
	config "github.com/eva-sean/oye-proxy/internal/staticconfig"
)

const serviceName = "oye-proxy"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting oye-proxy", zap.String("service", serviceName))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	databaseURL := cfg.Database.URL
	if cfg.Vault.Enabled {
		secretManager, err := secrets.NewManager(cfg.Vault.Address, cfg.Vault.Token, logger)
		if err != nil {
			logger.Warn("failed to initialize vault client, using static database URL", zap.Error(err))
		} else {
			databaseURL = secretManager.DatabaseDSN(cfg.Vault.SecretDSN, cfg.Database.URL)
		}
	}

	db, err := postgres.NewConnection(databaseURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	defer postgres.Close(db)

	store := postgres.NewStore(db, logger)

	var rawCache cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("redis not available, falling back to local cache", zap.Error(err))
			rawCache = cache.NewLocalCache(time.Minute, logger)
		} else {
			rawCache = redisCache
		}
	} else {
		rawCache = cache.NewLocalCache(time.Minute, logger)
	}
	defer rawCache.Close()

	chargerCache := cache.NewChargerCache(store, rawCache, logger)

	var publisher broadcast.Publisher
	if cfg.NATS.URL != "" {
		natsPublisher, err := broadcast.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("nats not available, live-tail fan-out disabled", zap.Error(err))
			publisher = broadcast.NoopPublisher{}
		} else {
			publisher = natsPublisher
		}
	} else {
		publisher = broadcast.NoopPublisher{}
	}
	defer publisher.Close()

	logWriter := mediator.NewLogWriter(store, logger)
	defer logWriter.Close()

	persisted, err := store.GetConfig(context.Background())
	if err != nil {
		logger.Warn("failed to load persisted config, starting from defaults", zap.Error(err))
		persisted = nil
	}
	initial, err := dynconfig.FromMap(dynconfig.DefaultDynamic(), persisted)
	if err != nil {
		logger.Warn("persisted config failed to parse, starting from defaults", zap.Error(err))
		initial = dynconfig.DefaultDynamic()
	}
	dynamicStore := dynconfig.NewStore(initial)

	reg := registry.New()

	deps := mediator.Deps{
		Store:       store,
		Cache:       chargerCache,
		Broadcaster: publisher,
		Config:      dynamicStore,
		LogWriter:   logWriter,
		Log:         logger,
	}

	acc := acceptor.New(reg, deps, registry.DisplaceOld)
	acceptorAddr := fmt.Sprintf(":%d", cfg.Acceptor.Port)
	acceptorServer := &http.Server{Addr: acceptorAddr, Handler: acc}
	go func() {
		logger.Info("starting charger-facing acceptor", zap.String("addr", acceptorAddr))
		var err error
		if cfg.Acceptor.TLSCert != "" && cfg.Acceptor.TLSKey != "" {
			err = acceptorServer.ListenAndServeTLS(cfg.Acceptor.TLSCert, cfg.Acceptor.TLSKey)
		} else {
			err = acceptorServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("acceptor server failed", zap.Error(err))
		}
	}()

	app := control.NewApp(reg, store, dynamicStore, *cfg, logger)
	control.RegisterDashboardTail(app, publisher, middleware.OperatorAuth(cfg.Operator, logger), logger)

	go func() {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		logger.Info("starting control surface", zap.String("addr", httpAddr))
		if err := app.Listen(httpAddr); err != nil {
			logger.Fatal("control surface failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("control surface shutdown error", zap.Error(err))
	}
	if err := acceptorServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("acceptor shutdown error", zap.Error(err))
	}

	for _, s := range reg.Snapshot() {
		s.Close()
	}

	logger.Info("shutdown complete")
}
