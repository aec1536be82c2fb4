package resolver

import (
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dertin/cargo-cooldown/internal/registry"
)

var selNow = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

func rec(num string, age time.Duration, yanked bool) registry.VersionRecord {
	return registry.VersionRecord{Num: num, CreatedAt: selNow.Add(-age), Yanked: yanked}
}

func versionsOf(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Version.String()
	}
	return out
}

func TestSelectCandidatesFilters(t *testing.T) {
	index := []registry.VersionRecord{
		rec("1.2.0", time.Hour, false),           // too fresh
		rec("1.1.1", 10*24*time.Hour, true),      // yanked
		rec("1.1.0", 10*24*time.Hour, false),     // eligible
		rec("1.0.0", 40*24*time.Hour, false),     // eligible
		rec("0.9.0", 100*24*time.Hour, false),    // outside ^1
		rec("2.0.0", 100*24*time.Hour, false),    // not older than current
		rec("not-a-version", 24*time.Hour, false), // unparsable
	}

	current := semver.MustParse("1.2.0")
	cutoff := selNow.Add(-24 * time.Hour)
	got := versionsOf(selectCandidates(index, current, []string{"^1"}, cutoff))

	want := []string{"1.1.0", "1.0.0"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %q, want %q (descending semver)", i, got[i], want[i])
		}
	}
}

func TestSelectCandidatesIntersectsRequirements(t *testing.T) {
	index := []registry.VersionRecord{
		rec("1.6.0", 20*24*time.Hour, false),
		rec("1.4.0", 20*24*time.Hour, false),
	}
	current := semver.MustParse("1.7.0")
	cutoff := selNow.Add(-24 * time.Hour)

	got := versionsOf(selectCandidates(index, current, []string{"^1", ">=1.5"}, cutoff))
	if len(got) != 1 || got[0] != "1.6.0" {
		t.Errorf("candidates = %v, want [1.6.0]", got)
	}
}

func TestSelectCandidatesExactRequirement(t *testing.T) {
	index := []registry.VersionRecord{
		rec("1.4.0", 20*24*time.Hour, false),
		rec("1.3.0", 30*24*time.Hour, false),
	}
	current := semver.MustParse("1.5.0")
	cutoff := selNow.Add(-24 * time.Hour)

	// A strict parent edge leaves no room below the current version.
	got := selectCandidates(index, current, []string{"=1.5.0"}, cutoff)
	if len(got) != 0 {
		t.Errorf("candidates = %v, want none under =1.5.0", versionsOf(got))
	}
}

func TestSelectCandidatesAllYanked(t *testing.T) {
	index := []registry.VersionRecord{
		rec("1.1.0", 10*24*time.Hour, true),
		rec("1.0.0", 40*24*time.Hour, true),
	}
	current := semver.MustParse("1.2.0")
	cutoff := selNow.Add(-24 * time.Hour)

	if got := selectCandidates(index, current, []string{"^1"}, cutoff); len(got) != 0 {
		t.Errorf("candidates = %v, want none (all yanked)", versionsOf(got))
	}
}

func TestSelectCandidatesMissingInstantExcluded(t *testing.T) {
	index := []registry.VersionRecord{
		{Num: "1.1.0"}, // no created_at: cannot prove it is old enough
	}
	current := semver.MustParse("1.2.0")
	cutoff := selNow.Add(-24 * time.Hour)

	if got := selectCandidates(index, current, nil, cutoff); len(got) != 0 {
		t.Errorf("candidates = %v, want none", versionsOf(got))
	}
}

func TestTranslateRequirement(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"^1", "^1"},
		{"=1.2.3", "=1.2.3"},
		{"1.2.3", "^1.2.3"},
		{">=2, <3", ">=2, <3"},
		{"1.2, <1.9", "^1.2, <1.9"},
	}
	for _, tt := range tests {
		if got := translateRequirement(tt.expr); got != tt.want {
			t.Errorf("translateRequirement(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}
