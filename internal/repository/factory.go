package repository

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	ora "github.com/sijms/go-ora/v2"
	"github.com/tuncerburak97/gozcu/internal/config"
	"github.com/tuncerburak97/gozcu/internal/repository/couchbase"
	"github.com/tuncerburak97/gozcu/internal/repository/mongo"
	"github.com/tuncerburak97/gozcu/internal/repository/oracle"
	"github.com/tuncerburak97/gozcu/internal/repository/postgres"
	"github.com/tuncerburak97/gozcu/internal/repository/redis"
)

// NewRepository connects to the archive backend named by cfg.Type and runs
// its migrations.
func NewRepository(ctx context.Context, cfg *config.ArchiveConfig) (RecordRepository, error) {
	log := zerolog.Ctx(ctx)
	log.Info().
		Str("type", cfg.Type).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connecting to archive")

	repo, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func connect(ctx context.Context, cfg *config.ArchiveConfig) (RecordRepository, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.NewPostgresRepository(ctx, PostgresURL(cfg))

	case "oracle":
		connStr := ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, nil)
		return oracle.NewOracleRepository(ctx, connStr)

	case "couchbase":
		connStr := fmt.Sprintf("couchbase://%s:%d", cfg.Host, cfg.Port)
		return couchbase.NewCouchbaseRepository(connStr, cfg.Database, cfg.User, cfg.Password)

	case "mongodb":
		return mongo.NewMongoRepository(ctx, MongoURI(cfg), cfg.Database)

	case "redis":
		return redis.NewRedisRepository(ctx, RedisOptions(cfg), cfg.Redis.Key, cfg.Redis.MaxLen)

	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}

func PostgresURL(cfg *config.ArchiveConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	if cfg.Pool.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.Pool.MaxConns))
	}
	if cfg.Pool.MinConns > 0 {
		q.Set("pool_min_conns", strconv.Itoa(cfg.Pool.MinConns))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func MongoURI(cfg *config.ArchiveConfig) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	if cfg.Pool.MaxConns > 0 {
		u.Path = "/"
		u.RawQuery = url.Values{"maxPoolSize": {strconv.Itoa(cfg.Pool.MaxConns)}}.Encode()
	}
	return u.String()
}

func RedisOptions(cfg *config.ArchiveConfig) *goredis.Options {
	return &goredis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Username:     cfg.User,
		Password:     cfg.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
		PoolSize:     cfg.Pool.MaxConns,
		MinIdleConns: cfg.Pool.MinConns,
	}
}
