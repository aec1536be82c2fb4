package registry

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dertin/cargo-cooldown/internal/cache"
)

// prefetchConcurrency bounds the initial fan-out of version index fetches.
const prefetchConcurrency = 15

// Source is the cache-integrated view of the registry. A fresh cache entry
// skips the network entirely; a successful fetch is written through; with
// offline tolerance a network failure falls back to whatever the cache
// holds, stale included.
type Source struct {
	client  *Client
	store   *cache.Store
	ttl     time.Duration
	offline bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewSource wires a client to the on-disk cache.
func NewSource(client *Client, store *cache.Store, ttl time.Duration, offline bool, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{
		client:  client,
		store:   store,
		ttl:     ttl,
		offline: offline,
		logger:  logger,
		now:     time.Now,
	}
}

// Versions returns the version index for a package, preferring a fresh
// cache entry over the network.
func (s *Source) Versions(ctx context.Context, name string) ([]VersionRecord, error) {
	var cached []VersionRecord
	writtenAt, haveCached := s.store.Get(name, &cached)
	if haveCached && s.now().Sub(writtenAt) <= s.ttl {
		return cached, nil
	}

	fetched, err := s.client.Versions(ctx, name)
	if err != nil {
		if s.offline && haveCached {
			s.logger.Warn("registry fetch failed; using stale cache entry",
				"package", name,
				"cached_at", writtenAt,
				"error", err)
			return cached, nil
		}
		return nil, err
	}

	if err := s.store.Put(name, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// Prefetch warms the cache for the given package names with a bounded
// fan-out. Failures are swallowed here; the sequential resolver path will
// re-issue the fetch and surface the error with full context.
func (s *Source) Prefetch(ctx context.Context, names []string) {
	seen := make(map[string]bool, len(names))

	var g errgroup.Group
	g.SetLimit(prefetchConcurrency)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		g.Go(func() error {
			if _, err := s.Versions(ctx, name); err != nil {
				s.logger.Debug("prefetch failed", "package", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
