package redis

import (
	"errors"

	"github.com/havenly/havenly-backend/pkg/kv"
)

var errNoURL = errors.New("kv/redis: RedisURL is required")

// The redis factory is only reached through kv's failover wrapper, which
// probes the connection before handing the store out.
func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		if cfg.RedisURL == "" {
			return nil, errNoURL
		}
		return New(cfg.RedisURL)
	})
}
