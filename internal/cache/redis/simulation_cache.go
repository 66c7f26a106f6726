package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// SimulationCache implements domain.SimulationCache. The latest result per
// target is stored as JSON at "sim:{exchange}:{symbol}:latest"; a newer
// result overwrites it.
type SimulationCache struct {
	rdb *redis.Client
}

// NewSimulationCache creates a SimulationCache backed by the given Client.
func NewSimulationCache(c *Client) *SimulationCache {
	return &SimulationCache{rdb: c.Underlying()}
}

func simulationKey(target domain.SubscriptionTarget) string {
	return "sim:" + target.Key() + ":latest"
}

// SetResult stores result. A zero ttl keeps it until superseded.
func (sc *SimulationCache) SetResult(ctx context.Context, result domain.SimulationResult, ttl time.Duration) error {
	target := result.Spec.Target()
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal simulation %s: %w", target, err)
	}
	if err := sc.rdb.Set(ctx, simulationKey(target), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set simulation %s: %w", target, err)
	}
	return nil
}

// GetResult returns the latest result for target or domain.ErrNotFound once
// it has expired or was never stored.
func (sc *SimulationCache) GetResult(ctx context.Context, target domain.SubscriptionTarget) (domain.SimulationResult, error) {
	data, err := sc.rdb.Get(ctx, simulationKey(target)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SimulationResult{}, domain.ErrNotFound
		}
		return domain.SimulationResult{}, fmt.Errorf("redis: get simulation %s: %w", target, err)
	}

	var res domain.SimulationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("redis: decode simulation %s: %w", target, err)
	}
	return res, nil
}

// Compile-time interface check.
var _ domain.SimulationCache = (*SimulationCache)(nil)
