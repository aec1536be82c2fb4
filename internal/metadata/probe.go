package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// ErrNoResolve is returned when the metadata output lacks a resolved
// dependency graph.
var ErrNoResolve = errors.New("metadata output did not include a resolved dependency graph")

// CommandError reports a failed or unintelligible package manager
// invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("cargo %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Probe obtains resolved graph snapshots from the package manager.
type Probe struct {
	// Dir is the working directory for cargo invocations. Empty means the
	// current directory.
	Dir string
	// ManifestPath is forwarded as --manifest-path when set.
	ManifestPath string
	// CargoBin overrides the cargo binary, for tests.
	CargoBin string
	Logger   *slog.Logger
}

func (p *Probe) cargo() string {
	if p.CargoBin != "" {
		return p.CargoBin
	}
	return "cargo"
}

func (p *Probe) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// EnsureLockfile generates the lockfile when absent. Snapshot requires one
// so that the probed graph reflects locked versions rather than a fresh
// resolution.
func (p *Probe) EnsureLockfile(ctx context.Context) error {
	dir := p.Dir
	if p.ManifestPath != "" {
		dir = filepath.Dir(p.ManifestPath)
	}
	if dir == "" {
		dir = "."
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.lock")); err == nil {
		return nil
	}

	args := []string{"generate-lockfile"}
	if p.ManifestPath != "" {
		args = append(args, "--manifest-path", p.ManifestPath)
	}
	p.log().Debug("generating lockfile", "args", args)

	cmd := exec.CommandContext(ctx, p.cargo(), args...)
	cmd.Dir = p.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Snapshot invokes the metadata command and returns the current resolved
// graph.
func (p *Probe) Snapshot(ctx context.Context) (*Graph, error) {
	args := []string{"metadata", "--format-version", "1"}
	if p.ManifestPath != "" {
		args = append(args, "--manifest-path", p.ManifestPath)
	}

	cmd := exec.CommandContext(ctx, p.cargo(), args...)
	cmd.Dir = p.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}

	graph, err := parseGraph(stdout.Bytes())
	if err != nil {
		return nil, &CommandError{Args: args, Err: err}
	}
	p.log().Debug("graph snapshot", "nodes", graph.Len())
	return graph, nil
}

type rawMetadata struct {
	Packages         []rawPackage `json:"packages"`
	WorkspaceMembers []string     `json:"workspace_members"`
	Resolve          *rawResolve  `json:"resolve"`
}

type rawPackage struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Source       string          `json:"source"`
	Dependencies []rawDependency `json:"dependencies"`
}

type rawDependency struct {
	Name   string `json:"name"`
	Req    string `json:"req"`
	Rename string `json:"rename"`
}

type rawResolve struct {
	Nodes []rawNode `json:"nodes"`
}

type rawNode struct {
	ID   string   `json:"id"`
	Deps []rawDep `json:"deps"`
}

type rawDep struct {
	Name string `json:"name"`
	Pkg  string `json:"pkg"`
}

func parseGraph(raw []byte) (*Graph, error) {
	var meta rawMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if meta.Resolve == nil {
		return nil, ErrNoResolve
	}

	packages := make(map[string]*rawPackage, len(meta.Packages))
	for i := range meta.Packages {
		packages[meta.Packages[i].ID] = &meta.Packages[i]
	}
	members := make(map[string]bool, len(meta.WorkspaceMembers))
	for _, id := range meta.WorkspaceMembers {
		members[id] = true
	}

	graph := NewGraph()
	for _, node := range meta.Resolve.Nodes {
		pkg, ok := packages[node.ID]
		if !ok {
			continue
		}
		if graph.Node(node.ID) != nil {
			continue
		}
		graph.AddNode(&Node{
			ID:      node.ID,
			Name:    pkg.Name,
			Version: pkg.Version,
			Source:  CanonicalSource(pkg.Source),
			PURL:    packageurl.NewPackageURL(packageurl.TypeCargo, "", pkg.Name, pkg.Version, nil, "").ToString(),
			Root:    members[node.ID],
		})
	}

	for _, node := range meta.Resolve.Nodes {
		pkg, ok := packages[node.ID]
		if !ok {
			continue
		}
		for _, dep := range node.Deps {
			child, ok := packages[dep.Pkg]
			if !ok || graph.Node(dep.Pkg) == nil {
				continue
			}
			manifestDep := findManifestDependency(pkg.Dependencies, dep.Name, child.Name)
			if manifestDep == nil {
				continue
			}
			graph.AddRequirement(dep.Pkg, Requirement{
				ParentID:   node.ID,
				ParentName: pkg.Name,
				Expr:       manifestDep.Req,
				Strict:     IsExactRequirement(manifestDep.Req),
			})
		}
	}
	return graph, nil
}

// findManifestDependency matches a resolve-node dep back to the manifest
// dependency that declared it. The resolve dep name is the library target
// (underscored), while the manifest may use the package name or a rename.
func findManifestDependency(deps []rawDependency, depName, packageName string) *rawDependency {
	normalized := strings.ReplaceAll(depName, "_", "-")
	for i := range deps {
		d := &deps[i]
		if d.Rename != "" && (d.Rename == depName || d.Rename == normalized) {
			return d
		}
		if d.Name == depName || d.Name == normalized || d.Name == packageName {
			return d
		}
	}
	return nil
}
