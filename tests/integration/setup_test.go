//go:build integration

// Package integration runs the persistence and cache layers against real
// Postgres and Redis containers, the way the proxy will see them in
// production rather than through in-memory fakes.
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eva-sean/oye-proxy/internal/cache"
	"github.com/eva-sean/oye-proxy/internal/persistence"
	"github.com/eva-sean/oye-proxy/internal/persistence/postgres"
)

// TestEnv holds the resources shared across the integration suite.
type TestEnv struct {
	DB               *gorm.DB
	Store            persistence.Store
	Cache            cache.Cache
	postgresContainer testcontainers.Container
	redisContainer    testcontainers.Container
	Logger           *zap.Logger
}

var testEnv *TestEnv

// SetupTestEnvironment wires Postgres and Redis into the real store/cache
// implementations, using DATABASE_URL/REDIS_URL when set (CI runners that
// provide external services) and otherwise starting (or reusing) containers.
func SetupTestEnvironment(t *testing.T) *TestEnv {
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	databaseURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")

	var pgContainer, redisContainerHandle testcontainers.Container

	if databaseURL == "" {
		container, err := tcpostgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:16-alpine"),
			tcpostgres.WithDatabase("oye_proxy_test"),
			tcpostgres.WithUsername("oye"),
			tcpostgres.WithPassword("oye_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		pgContainer = container

		host, err := container.Host(ctx)
		if err != nil {
			t.Fatalf("postgres host: %v", err)
		}
		port, err := container.MappedPort(ctx, "5432")
		if err != nil {
			t.Fatalf("postgres port: %v", err)
		}
		databaseURL = fmt.Sprintf("postgres://oye:oye_test@%s:%s/oye_proxy_test?sslmode=disable", host, port.Port())
	}

	if redisURL == "" {
		container, err := tcredis.RunContainer(ctx,
			testcontainers.WithImage("redis:7-alpine"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("redis container unavailable: %v", err)
		}
		redisContainerHandle = container

		connStr, err := container.ConnectionString(ctx)
		if err != nil {
			t.Fatalf("redis connection string: %v", err)
		}
		redisURL = connStr
	}

	db, err := postgres.NewConnection(databaseURL, logger)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := postgres.RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	redisCache, err := cache.NewRedisCache(redisURL, logger)
	if err != nil {
		t.Fatalf("connect to redis: %v", err)
	}

	testEnv = &TestEnv{
		DB:                db,
		Store:             postgres.NewStore(db, logger),
		Cache:             redisCache,
		postgresContainer: pgContainer,
		redisContainer:    redisContainerHandle,
		Logger:            logger,
	}
	return testEnv
}

// TeardownTestEnvironment tears down any containers SetupTestEnvironment started.
func TeardownTestEnvironment(t *testing.T) {
	if testEnv == nil {
		return
	}
	ctx := context.Background()

	postgres.Close(testEnv.DB)
	testEnv.Cache.Close()

	if testEnv.postgresContainer != nil {
		if err := testEnv.postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	if testEnv.redisContainer != nil {
		if err := testEnv.redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}
	testEnv = nil
}
