// Package policy computes the effective cooldown for each package and
// classifies resolved nodes as aged or fresh against the cutoff.
package policy

import (
	"fmt"
	"time"

	"github.com/dertin/cargo-cooldown/internal/allowlist"
	"github.com/dertin/cargo-cooldown/internal/metadata"
)

// State is the classification of a node against its cutoff.
type State int

const (
	// Aged nodes are old enough, unguarded, or exempt.
	Aged State = iota
	// Fresh nodes were published inside the cooldown window.
	Fresh
)

// MissingMetadataError reports a guarded node without a publication
// instant; such a node cannot be classified.
type MissingMetadataError struct {
	Name    string
	Version string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("no publication instant for %s %s; cannot classify against the cooldown window", e.Name, e.Version)
}

// Policy decides which nodes the cooldown applies to and how long the
// window is for each package.
type Policy struct {
	base    time.Duration
	allow   *allowlist.Allowlist
	guarded map[string]bool
	now     func() time.Time
}

// New builds a policy. Guarded registry URLs are canonicalized here so the
// comparison with node sources is an exact string match.
func New(base time.Duration, allow *allowlist.Allowlist, guardedRegistries []string, now func() time.Time) *Policy {
	if allow == nil {
		allow = &allowlist.Allowlist{}
	}
	if now == nil {
		now = time.Now
	}
	guarded := make(map[string]bool, len(guardedRegistries))
	for _, reg := range guardedRegistries {
		guarded[metadata.CanonicalSource(reg)] = true
	}
	return &Policy{base: base, allow: allow, guarded: guarded, now: now}
}

// EffectiveWindow returns the cooldown window for a package: the base
// window capped by the global and per-package allowlist overrides. An
// override can only shorten the window, never extend it. Zero disables the
// cooldown for the package.
func (p *Policy) EffectiveWindow(name string) time.Duration {
	window := p.base
	if global, ok := p.allow.GlobalWindow(); ok && global < window {
		window = global
	}
	if override, ok := p.allow.WindowOverride(name); ok && override < window {
		window = override
	}
	return window
}

// Cutoff returns the instant separating aged from fresh for a package.
func (p *Policy) Cutoff(name string) time.Time {
	return p.now().Add(-p.EffectiveWindow(name))
}

// Guarded reports whether a node is subject to the cooldown at all: its
// source must be in the guarded set, it must not be a workspace root, its
// exact version must not be pinned by the allowlist, and its effective
// window must be non-zero.
func (p *Policy) Guarded(node *metadata.Node) bool {
	if node == nil || node.Root || node.Source == "" {
		return false
	}
	if !p.guarded[node.Source] {
		return false
	}
	if p.allow.ExactAllowed(node.Name, node.Version) {
		return false
	}
	return p.EffectiveWindow(node.Name) > 0
}

// Classify returns Aged or Fresh for a node given its publication instant.
// Unguarded nodes are always aged. A guarded node with no instant cannot
// be classified and yields MissingMetadataError.
func (p *Policy) Classify(node *metadata.Node, publishedAt time.Time) (State, error) {
	if !p.Guarded(node) {
		return Aged, nil
	}
	if publishedAt.IsZero() {
		return Fresh, &MissingMetadataError{Name: node.Name, Version: node.Version}
	}
	if !publishedAt.After(p.Cutoff(node.Name)) {
		return Aged, nil
	}
	return Fresh, nil
}
