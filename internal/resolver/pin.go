package resolver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/dertin/cargo-cooldown/internal/metadata"
)

// Outcome is the result of one pin attempt.
type Outcome struct {
	// Applied means the package manager accepted the downgrade and the
	// lockfile changed; the graph must be re-probed.
	Applied bool
	// Blockers names the packages the manager reported as holding the
	// child in place. Empty on a rejection means the blockers could not
	// be parsed out and every strict parent should be escalated.
	Blockers []Blocker
}

// Blocker identifies a package blamed in a rejection. Version may be empty
// when the manager's output named only the package.
type Blocker struct {
	Name    string
	Version string
}

// Pinner attempts precise downgrades.
type Pinner interface {
	Pin(ctx context.Context, name, current, target string) (Outcome, error)
}

// CargoPinner pins through `cargo update -p name@current --precise target`.
// The instance-qualified selector is mandatory: several instances of the
// same name can coexist in the graph.
type CargoPinner struct {
	Dir          string
	ManifestPath string
	CargoBin     string
	Logger       *slog.Logger
}

// Pin runs the precise-update command and interprets the result. The
// lockfile is the only state touched, and only by the external process.
func (p *CargoPinner) Pin(ctx context.Context, name, current, target string) (Outcome, error) {
	bin := p.CargoBin
	if bin == "" {
		bin = "cargo"
	}
	args := []string{"update", "-p", name + "@" + current, "--precise", target}
	if p.ManifestPath != "" {
		args = append(args, "--manifest-path", p.ManifestPath)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = p.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Outcome{Applied: true}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() < 0 {
		// Spawn failures and signal deaths are not a refusal by the solver.
		return Outcome{}, &metadata.CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}

	blockers := parseBlockers(stdout.String(), stderr.String())
	if p.Logger != nil {
		p.Logger.Debug("pin rejected",
			"package", name,
			"target", target,
			"blockers", len(blockers))
	}
	return Outcome{Blockers: blockers}, nil
}

const blockerMarker = "required by package `"

// parseBlockers extracts blocking packages from the manager's output.
// Cargo reports constraint conflicts with lines like:
//
//	... required by package `foo v1.2.3`
func parseBlockers(stdout, stderr string) []Blocker {
	var out []Blocker
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		idx := strings.Index(line, blockerMarker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(blockerMarker):]
		end := strings.IndexByte(rest, '`')
		if end < 0 {
			continue
		}
		inner := rest[:end]

		blocker := Blocker{Name: inner}
		if name, version, ok := strings.Cut(inner, " "); ok {
			blocker = Blocker{Name: name, Version: strings.TrimPrefix(version, "v")}
		}
		if !containsBlocker(out, blocker) {
			out = append(out, blocker)
		}
	}
	return out
}

func containsBlocker(blockers []Blocker, b Blocker) bool {
	for _, existing := range blockers {
		if existing == b {
			return true
		}
	}
	return false
}
