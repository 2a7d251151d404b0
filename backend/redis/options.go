package redis

import (
	"time"

	"github.com/cschleiden/go-dslflow/backend"
)

type RedisOptions struct {
	backend.Options

	// AutoExpiration is the duration after which states of finished runs expire.
	AutoExpiration time.Duration

	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

// WithAutoExpiration sets the duration after which finished runs will expire from the data store.
// If set to 0 (default), runs will never expire and need to be manually removed.
func WithAutoExpiration(expireFinishedRunsAfter time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.AutoExpiration = expireFinishedRunsAfter
	}
}

func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}
