package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/backend/file"
	"github.com/cschleiden/go-dslflow/backend/memory"
	"github.com/cschleiden/go-dslflow/backend/mysql"
	"github.com/cschleiden/go-dslflow/backend/redis"
	"github.com/cschleiden/go-dslflow/backend/sqlite"
	"github.com/cschleiden/go-dslflow/internal/config"
)

func openBackend(cfg config.Backend, logger *slog.Logger, tp trace.TracerProvider) (backend.Backend, error) {
	opts := []backend.BackendOption{
		backend.WithLogger(logger),
		backend.WithTracerProvider(tp),
	}

	switch cfg.Type {
	case "memory":
		return memory.NewMemoryBackend(opts...), nil

	case "file":
		return file.NewFileBackend(cfg.Path, file.WithBackendOptions(opts...))

	case "sqlite":
		return sqlite.NewSqliteBackend(cfg.Path, sqlite.WithBackendOptions(opts...)), nil

	case "mysql":
		dsn, err := gomysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parsing MySQL DSN: %w", err)
		}

		host, portStr, err := net.SplitHostPort(dsn.Addr)
		if err != nil {
			return nil, fmt.Errorf("parsing MySQL address: %w", err)
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("parsing MySQL port: %w", err)
		}

		return mysql.NewMysqlBackend(host, port, dsn.User, dsn.Passwd, dsn.DBName, mysql.WithBackendOptions(opts...)), nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ropts := []redis.RedisBackendOption{redis.WithBackendOptions(opts...)}
		if cfg.KeyPrefix != "" {
			ropts = append(ropts, redis.WithKeyPrefix(cfg.KeyPrefix))
		}
		if cfg.RedisExpiration > 0 {
			ropts = append(ropts, redis.WithAutoExpiration(cfg.RedisExpiration))
		}

		return redis.NewRedisBackend(client, ropts...)
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Type)
}
