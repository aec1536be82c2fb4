// Package allowlist loads the cooldown allowlist document and answers
// override queries: exact version exemptions, wildcard exemptions, and
// per-package or global window reductions. Overrides only ever shorten the
// window; they never raise it above the configured base.
package allowlist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Wildcard is the version value that exempts every release of a package.
const Wildcard = "*"

// Allowlist holds the parsed allowlist document. The zero value allows
// nothing and overrides nothing.
type Allowlist struct {
	exact    map[string]map[string]bool
	packages map[string]time.Duration
	global   *time.Duration
}

type document struct {
	Exact    []exactEntry   `yaml:"exact"`
	Packages []packageEntry `yaml:"packages"`
	Global   *globalEntry   `yaml:"global"`
}

type exactEntry struct {
	Package string `yaml:"package"`
	Version string `yaml:"version"`
}

type packageEntry struct {
	Package string `yaml:"package"`
	Minutes uint64 `yaml:"minutes"`
}

type globalEntry struct {
	Minutes uint64 `yaml:"minutes"`
}

// Load reads the allowlist at path. A missing file yields an empty
// allowlist; a present but malformed file is an error. Unknown keys are
// rejected so a typo cannot silently widen the exemptions.
func Load(path string) (*Allowlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("allowlist: reading %s: %w", path, err)
	}

	doc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("allowlist: parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes an allowlist document.
func Parse(raw []byte) (*Allowlist, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	a := &Allowlist{
		exact:    make(map[string]map[string]bool),
		packages: make(map[string]time.Duration),
	}
	for _, e := range doc.Exact {
		if e.Package == "" || e.Version == "" {
			return nil, fmt.Errorf("exact entry requires package and version")
		}
		if a.exact[e.Package] == nil {
			a.exact[e.Package] = make(map[string]bool)
		}
		a.exact[e.Package][e.Version] = true
	}
	for _, p := range doc.Packages {
		if p.Package == "" {
			return nil, fmt.Errorf("packages entry requires package")
		}
		a.packages[p.Package] = time.Duration(p.Minutes) * time.Minute
	}
	if doc.Global != nil {
		d := time.Duration(doc.Global.Minutes) * time.Minute
		a.global = &d
	}
	return a, nil
}

// ExactAllowed reports whether the given release is exempted, either by an
// exact pin or by a wildcard entry. A pinned release is exempt regardless
// of its yank status; the pin records explicit user intent.
func (a *Allowlist) ExactAllowed(name, version string) bool {
	versions, ok := a.exact[name]
	if !ok {
		return false
	}
	return versions[version] || versions[Wildcard]
}

// WindowOverride returns the per-package window reduction, if any.
func (a *Allowlist) WindowOverride(name string) (time.Duration, bool) {
	d, ok := a.packages[name]
	return d, ok
}

// GlobalWindow returns the global window cap, if any.
func (a *Allowlist) GlobalWindow() (time.Duration, bool) {
	if a.global == nil {
		return 0, false
	}
	return *a.global, true
}
