package commands

import (
	"context"
	"log/slog"

	"github.com/dertin/cargo-cooldown/internal/allowlist"
	"github.com/dertin/cargo-cooldown/internal/cache"
	"github.com/dertin/cargo-cooldown/internal/config"
	"github.com/dertin/cargo-cooldown/internal/metadata"
	"github.com/dertin/cargo-cooldown/internal/policy"
	"github.com/dertin/cargo-cooldown/internal/registry"
	"github.com/dertin/cargo-cooldown/internal/resolver"
)

// runGuard wires the cooldown components together and runs the fixed
// point against the current workspace.
func runGuard(ctx context.Context, cfg config.Config, logger *slog.Logger, manifestPath string) error {
	allow, err := allowlist.Load(cfg.AllowlistPath)
	if err != nil {
		return err
	}

	client, err := registry.NewClient(cfg.RegistryAPI,
		registry.WithRetries(cfg.HTTPRetries),
		registry.WithLogger(logger))
	if err != nil {
		return err
	}
	source := registry.NewSource(client, cache.NewStore(cfg.CacheDir), cfg.TTL, cfg.OfflineOK, logger)

	loop := &resolver.Loop{
		Probe:     &metadata.Probe{ManifestPath: manifestPath, Logger: logger},
		Source:    source,
		Policy:    policy.New(cfg.CooldownWindow, allow, cfg.GuardedRegistries, nil),
		Pinner:    &resolver.CargoPinner{ManifestPath: manifestPath, Logger: logger},
		Mode:      cfg.Mode,
		OfflineOK: cfg.OfflineOK,
		Logger:    logger,
	}
	return loop.Run(ctx)
}
