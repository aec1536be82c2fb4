// Package resolver drives the cooldown fixed point: it classifies the
// probed graph, selects older compatible releases for fresh packages, and
// delegates each downgrade to the package manager, escalating to parents
// when a pin is infeasible.
package resolver

import (
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dertin/cargo-cooldown/internal/registry"
)

// Candidate is an eligible downgrade target.
type Candidate struct {
	Version   *semver.Version
	CreatedAt time.Time
}

// selectCandidates returns the releases eligible to replace current, in
// descending semver order: not yanked, strictly older than current,
// satisfying every parent requirement, and published at or before the
// cutoff. The caller consumes them highest-first so the graph stays as
// fresh as the window permits.
func selectCandidates(index []registry.VersionRecord, current *semver.Version, reqs []string, cutoff time.Time) []Candidate {
	constraints := parseConstraints(reqs)

	var out []Candidate
	for _, rec := range index {
		if rec.Yanked {
			continue
		}
		v, err := semver.NewVersion(rec.Num)
		if err != nil {
			continue
		}
		if !v.LessThan(current) {
			continue
		}
		if rec.CreatedAt.IsZero() || rec.CreatedAt.After(cutoff) {
			continue
		}
		if !matchesAll(v, constraints) {
			continue
		}
		out = append(out, Candidate{Version: v, CreatedAt: rec.CreatedAt})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[j].Version.LessThan(out[i].Version)
	})
	return out
}

// parseConstraints converts requirement expressions to constraints. Cargo
// treats a bare version as a caret requirement, so "1.2" becomes "^1.2".
// An expression the parser cannot understand is dropped: the package
// manager is the final authority and vetoes infeasible pins anyway.
func parseConstraints(reqs []string) []*semver.Constraints {
	var out []*semver.Constraints
	for _, expr := range reqs {
		c, err := semver.NewConstraint(translateRequirement(expr))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func translateRequirement(expr string) string {
	parts := strings.Split(expr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part[0] >= '0' && part[0] <= '9' {
			part = "^" + part
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func matchesAll(v *semver.Version, constraints []*semver.Constraints) bool {
	for _, c := range constraints {
		if !c.Check(v) {
			return false
		}
	}
	return true
}

func findRecord(index []registry.VersionRecord, version string) (registry.VersionRecord, bool) {
	for _, rec := range index {
		if rec.Num == version {
			return rec, true
		}
	}
	return registry.VersionRecord{}, false
}
