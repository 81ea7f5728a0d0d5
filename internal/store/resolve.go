package store

import (
	"time"

	"go.uber.org/zap"
)

// ResolveOptions carry the persistence configuration. Zero values disable the
// corresponding backend.
type ResolveOptions struct {
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
	DataDir       string
}

// Resolve picks the persistence backend at startup: Redis when configured and
// reachable, otherwise the local data directory, otherwise memory. Every
// fallback is a degraded state and is logged as such; the chosen backend's
// Name is reported by the health endpoint so callers can see it.
func Resolve(opts ResolveOptions, logger *zap.Logger) Store {
	if opts.RedisAddr != "" {
		timeout := opts.RedisTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		s, err := NewRedisStore(opts.RedisAddr, opts.RedisPassword, timeout)
		if err == nil {
			logger.Info("using redis store", zap.String("addr", opts.RedisAddr))
			return s
		}
		logger.Warn("redis unavailable, falling back to local storage", zap.Error(err))
	}

	if opts.DataDir != "" {
		s, err := NewFileStore(opts.DataDir)
		if err == nil {
			logger.Info("using file store", zap.String("dir", opts.DataDir))
			return s
		}
		logger.Warn("data dir unusable, falling back to memory", zap.Error(err))
	}

	logger.Warn("using in-memory store, writes will not survive a restart")
	return NewMemoryStore()
}
