// Package entitlements mirrors the derived subscriber role into the
// shared cache, where request-time authorization checks read it. The
// database row written by the reconciliation layer stays authoritative;
// the cache entry is a disposable projection.
package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kessaihq/kessai/internal/pkg/cache"
)

const (
	roleKeyPrefix = "entitlement:subscriber:"
	roleTTL       = 24 * time.Hour
)

// CacheApplier projects role grants into Redis.
type CacheApplier struct {
	role string
}

// NewCacheApplier creates an applier granting the given role name.
func NewCacheApplier(role string) *CacheApplier {
	if role == "" {
		role = "subscriber"
	}
	return &CacheApplier{role: role}
}

// ApplyRole writes or clears the cached role for a subscriber.
func (a *CacheApplier) ApplyRole(ctx context.Context, subscriberID uint, granted bool) error {
	key := fmt.Sprintf("%s%d", roleKeyPrefix, subscriberID)
	if !granted {
		if err := cache.Delete(key); err != nil {
			return fmt.Errorf("revoke cached role: %w", err)
		}
		log.Infof("[Entitlements] Revoked role %s from subscriber %d", a.role, subscriberID)
		return nil
	}

	if err := cache.Set(key, a.role, roleTTL); err != nil {
		return fmt.Errorf("grant cached role: %w", err)
	}
	log.Infof("[Entitlements] Granted role %s to subscriber %d", a.role, subscriberID)
	return nil
}

// HasRole reports whether a subscriber currently holds the granted role.
// A cache miss means revoked or expired; callers needing certainty fall
// back to the subscriber attributes in the database.
func (a *CacheApplier) HasRole(subscriberID uint) bool {
	val, err := cache.Get(fmt.Sprintf("%s%d", roleKeyPrefix, subscriberID))
	if err != nil {
		return false
	}
	return val == a.role
}
