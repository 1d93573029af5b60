// Package spsp binds content-addressed payment pointers to their SPSP
// endpoints and reverse-proxies SPSP queries to them. The registry rows are
// plain Redis strings keyed by the pointer hash; each operation is a single
// natively atomic command, so no scripting is needed here.
package spsp

import (
	"context"
	"errors"

	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Lookup when no mapping exists for a hash.
var ErrNotFound = errors.New("proxy mapping not found")

// Registry maps pointer hashes to canonical endpoint URLs.
type Registry struct {
	store  *store.Client
	logger *zap.Logger
}

// NewRegistry returns a Registry backed by the given store client.
func NewRegistry(client *store.Client, logger *zap.Logger) *Registry {
	return &Registry{store: client, logger: logger}
}

// Create canonicalizes pointer, stores hash -> canonical URL (overwriting
// any previous value, so repeated calls are idempotent) and returns the
// hash. Fails with ErrInvalidPointer when the pointer cannot be parsed.
func (r *Registry) Create(ctx context.Context, pointer string) (string, error) {
	canonical, err := CanonicalURL(pointer)
	if err != nil {
		return "", err
	}

	hash := PointerHash(pointer)
	if err := store.WrapTransportErr(r.store.GetClient().Set(ctx, hash, canonical, 0).Err()); err != nil {
		return "", err
	}

	r.logger.Debug("Registered SPSP proxy mapping",
		zap.String("hash", hash),
		zap.String("endpoint", canonical))
	return hash, nil
}

// Lookup returns the canonical endpoint URL registered under hash, or
// ErrNotFound when absent.
func (r *Registry) Lookup(ctx context.Context, hash string) (string, error) {
	v, err := r.store.GetClient().Get(ctx, hash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", store.WrapTransportErr(err)
	}
	return v, nil
}

// Delete removes the mapping for hash. Deleting an absent mapping is not
// an error.
func (r *Registry) Delete(ctx context.Context, hash string) error {
	return store.WrapTransportErr(r.store.GetClient().Del(ctx, hash).Err())
}
