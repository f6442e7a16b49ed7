package state

import "github.com/8000178/firezone/internal/obs"

// New creates either an in-memory or Redis-backed store based on configuration.
func New(redisAddr, redisPassword string, redisDB int) (Store, error) {
	if redisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryStore(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return NewRedisStore(redisAddr, redisPassword, redisDB)
}
