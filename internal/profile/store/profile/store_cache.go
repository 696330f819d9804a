package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"folio/internal/profile/models"
	id "folio/pkg/domain"
	"folio/pkg/platform/tx"
)

const profileKeyPrefix = "folio:profile:"

// Store is the live-profile persistence contract the cache decorates.
type Store interface {
	FindByOwner(ctx context.Context, owner id.OwnerID) (*models.Profile, error)
	Create(ctx context.Context, p *models.Profile) error
	Update(ctx context.Context, p *models.Profile) error
}

// Cached decorates a profile store with a Redis read-through cache. Public
// profile reads dominate this service's traffic; every write (promotion)
// invalidates the owner's entry so stale bodies never outlive a review
// decision. Cache failures degrade to the underlying store.
type Cached struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) FindByOwner(ctx context.Context, owner id.OwnerID) (*models.Profile, error) {
	// Inside a per-owner transaction the read doubles as a row lock; serving
	// it from cache would break the consistency snapshot.
	if _, inTx := tx.From(ctx); inTx {
		return c.inner.FindByOwner(ctx, owner)
	}

	key := profileKeyPrefix + owner.String()
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var p models.Profile
		if unmarshalErr := json.Unmarshal(raw, &p); unmarshalErr == nil {
			return &p, nil
		}
		// Corrupt entry; fall through to the store and rewrite it.
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "profile cache read failed", "error", err, "owner_id", owner.String())
	}

	p, err := c.inner.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if raw, marshalErr := json.Marshal(p); marshalErr == nil {
		if setErr := c.client.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
			c.logger.WarnContext(ctx, "profile cache write failed", "error", setErr, "owner_id", owner.String())
		}
	}
	return p, nil
}

func (c *Cached) Create(ctx context.Context, p *models.Profile) error {
	if err := c.inner.Create(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.OwnerID)
	return nil
}

func (c *Cached) Update(ctx context.Context, p *models.Profile) error {
	if err := c.inner.Update(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.OwnerID)
	return nil
}

func (c *Cached) invalidate(ctx context.Context, owner id.OwnerID) {
	if err := c.client.Del(ctx, profileKeyPrefix+owner.String()).Err(); err != nil {
		c.logger.WarnContext(ctx, "profile cache invalidation failed", "error", err, "owner_id", owner.String())
	}
}
