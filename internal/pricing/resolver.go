package pricing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// Resolver looks up the active installation for a (business, agent) pair,
// with a cache-aside layer in Redis. Installations change rarely (owned by
// the provisioning process), so a short TTL is enough.
type Resolver struct {
	store Store
	cache *redis.Client
}

func NewResolver(store Store, cache *redis.Client) *Resolver {
	return &Resolver{store: store, cache: cache}
}

func (r *Resolver) Resolve(ctx context.Context, businessID, agentID string) (*Installation, error) {
	cacheKey := fmt.Sprintf("pricing:%s:%s", businessID, agentID)

	if r.cache != nil {
		var inst Installation
		err := r.cache.Get(ctx, cacheKey).Scan(&inst)
		if err == nil {
			return &inst, nil
		} else if err != redis.Nil {
			log.Printf("pricing: redis error: %v", err)
		}
	}

	inst, err := r.store.ActiveInstallation(ctx, businessID, agentID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, cacheKey, inst, cacheTTL).Err()
	}

	return inst, nil
}
