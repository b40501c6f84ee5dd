package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
)

const defaultConnectTimeout = 10 * time.Second

type Database struct {
	PG     *pgxpool.Pool
	Neo4j  neo4j.DriverWithContext
	Redis  *RedisClients
	logger *logrus.Logger
}

// RedisClients separates catalog records and rate limits (warm) from
// embedding vectors (cold).
type RedisClients struct {
	Warm *redis.Client
	Cold *redis.Client
}

// New connects every backend the service needs. Neo4j is only dialled when
// enabled. On failure the connections opened so far are closed again.
func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
		Redis:  &RedisClients{},
	}

	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.connect(ctx, cfg)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to release partially opened connections")
		}
		return nil, err
	}

	return db, nil
}

func (db *Database) connect(ctx context.Context, cfg *config.Config) error {
	var err error

	if db.PG, err = openPostgres(ctx, cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	db.logger.Info("PostgreSQL connection established")

	if cfg.Neo4j.Enabled {
		if db.Neo4j, err = openNeo4j(ctx, cfg.Neo4j); err != nil {
			return fmt.Errorf("failed to initialize Neo4j: %w", err)
		}
		db.logger.Info("Neo4j connection established")
	}

	if db.Redis.Warm, err = openRedis(ctx, cfg.Redis.Warm); err != nil {
		return fmt.Errorf("failed to initialize Redis warm: %w", err)
	}
	if db.Redis.Cold, err = openRedis(ctx, cfg.Redis.Cold); err != nil {
		return fmt.Errorf("failed to initialize Redis cold: %w", err)
	}
	db.logger.Info("Redis connections established")

	return nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.MaxConnLifetime = cfg.MaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	// vector columns decode into pgvector.Vector
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return pool, nil
}

func openNeo4j(ctx context.Context, cfg config.Neo4jConfig) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URL,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = 10
			c.ConnectionAcquisitionTimeout = 5 * time.Second
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return driver, nil
}

func openRedis(ctx context.Context, cfg config.RedisInstanceConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.URL, err)
	}

	return client, nil
}

func (db *Database) Close() error {
	var errs []error

	if db.PG != nil {
		db.PG.Close()
		db.logger.Info("PostgreSQL connection closed")
	}

	if db.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
		defer cancel()
		if err := db.Neo4j.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Neo4j: %w", err))
		}
	}

	if db.Redis != nil {
		for name, client := range map[string]*redis.Client{"warm": db.Redis.Warm, "cold": db.Redis.Cold} {
			if client == nil {
				continue
			}
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close Redis %s: %w", name, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %w", errors.Join(errs...))
	}
	return nil
}
