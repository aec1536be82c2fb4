package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dertin/cargo-cooldown/internal/config"
	"github.com/dertin/cargo-cooldown/internal/metadata"
	"github.com/dertin/cargo-cooldown/internal/policy"
	"github.com/dertin/cargo-cooldown/internal/registry"
)

// Prober obtains resolved graph snapshots.
type Prober interface {
	EnsureLockfile(ctx context.Context) error
	Snapshot(ctx context.Context) (*metadata.Graph, error)
}

// VersionSource supplies version indexes, cache-backed.
type VersionSource interface {
	Versions(ctx context.Context, name string) ([]registry.VersionRecord, error)
	Prefetch(ctx context.Context, names []string)
}

// Loop runs the cooldown fixed point: snapshot, classify, pin the highest
// priority fresh package, re-probe, until the graph is fully aged or no
// progress is possible.
type Loop struct {
	Probe     Prober
	Source    VersionSource
	Policy    *policy.Policy
	Pinner    Pinner
	Mode      config.Mode
	OfflineOK bool
	Logger    *slog.Logger
	Now       func() time.Time
}

type attemptKey struct {
	name    string
	version string
}

func (l *Loop) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Run drives iterations until Clean, Stuck, or the cap. In warn mode a
// stuck or nonterminating state is reported and Run returns nil so the
// wrapped command can proceed.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Probe.EnsureLockfile(ctx); err != nil {
		return err
	}

	attempted := make(map[attemptKey]bool)
	attempts := 0
	iterCap := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		graph, err := l.Probe.Snapshot(ctx)
		if err != nil {
			return err
		}
		if iterCap == 0 {
			n := graph.Len()
			iterCap = 4*n*n + 16
		}

		indexes, fresh, err := l.classify(ctx, graph)
		if err != nil {
			return err
		}
		if len(fresh) == 0 {
			l.log().Info("dependency graph cooled down")
			return nil
		}

		orderByPriority(graph, fresh)

		pinned, err := l.drainQueue(ctx, graph, indexes, fresh, attempted, &attempts, iterCap)
		if err != nil {
			return err
		}
		if !pinned {
			// Warn mode reported and swallowed the stuck state inside
			// drainQueue; nothing left to do.
			return nil
		}
		// A pin landed: the solution space changed, so previously failed
		// attempts are worth retrying.
		attempted = make(map[attemptKey]bool)
	}
}

// classify fetches indexes for all guarded nodes and splits out the fresh
// ones. Fetch failures degrade to "treat as aged" only under offline
// tolerance; missing instants degrade under warn mode or offline tolerance.
// Otherwise both are fatal.
func (l *Loop) classify(ctx context.Context, graph *metadata.Graph) (map[string][]registry.VersionRecord, []*metadata.Node, error) {
	var guardedNames []string
	seen := make(map[string]bool)
	for _, node := range graph.Nodes() {
		if l.Policy.Guarded(node) && !seen[node.Name] {
			seen[node.Name] = true
			guardedNames = append(guardedNames, node.Name)
		}
	}
	l.Source.Prefetch(ctx, guardedNames)

	indexes := make(map[string][]registry.VersionRecord)
	var fresh []*metadata.Node
	for _, node := range graph.Nodes() {
		if !l.Policy.Guarded(node) {
			continue
		}

		index, ok := indexes[node.Name]
		if !ok {
			var err error
			index, err = l.Source.Versions(ctx, node.Name)
			if err != nil {
				if l.OfflineOK {
					l.log().Warn("registry unavailable; treating package as aged",
						"package", node.PURL, "error", err)
					continue
				}
				return nil, nil, err
			}
			indexes[node.Name] = index
		}

		var publishedAt time.Time
		if rec, found := findRecord(index, node.Version); found {
			publishedAt = rec.CreatedAt
		}

		state, err := l.Policy.Classify(node, publishedAt)
		if err != nil {
			if l.Mode == config.ModeWarn || l.OfflineOK {
				l.log().Warn("cannot classify package; treating as aged", "package", node.PURL, "error", err)
				continue
			}
			return nil, nil, err
		}
		if state == policy.Fresh {
			l.log().Debug("fresh package detected",
				"package", node.PURL,
				"published_at", publishedAt,
				"window", l.Policy.EffectiveWindow(node.Name))
			fresh = append(fresh, node)
		}
	}
	return indexes, fresh, nil
}

// orderByPriority sorts fresh nodes: strict parents of other fresh nodes
// first (downgrading them can cascade), then by strict out-degree, then by
// name for a stable tie-break.
func orderByPriority(graph *metadata.Graph, fresh []*metadata.Node) {
	freshIDs := make(map[string]bool, len(fresh))
	for _, node := range fresh {
		freshIDs[node.ID] = true
	}
	parentOfFresh := func(id string) bool {
		for other := range freshIDs {
			if other != id && graph.IsStrictParentOf(id, other) {
				return true
			}
		}
		return false
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		pi, pj := parentOfFresh(fresh[i].ID), parentOfFresh(fresh[j].ID)
		if pi != pj {
			return pi
		}
		di, dj := graph.StrictOutDegree(fresh[i].ID), graph.StrictOutDegree(fresh[j].ID)
		if di != dj {
			return di > dj
		}
		if fresh[i].Name != fresh[j].Name {
			return fresh[i].Name < fresh[j].Name
		}
		return fresh[i].Version < fresh[j].Version
	})
}

// drainQueue processes one snapshot's queue. It returns true when a pin
// was applied and the caller must re-probe; false means the run is over
// (clean warn-mode exit) and any fatal condition came back as the error.
func (l *Loop) drainQueue(
	ctx context.Context,
	graph *metadata.Graph,
	indexes map[string][]registry.VersionRecord,
	fresh []*metadata.Node,
	attempted map[attemptKey]bool,
	attempts *int,
	iterCap int,
) (bool, error) {
	queue := append([]*metadata.Node(nil), fresh...)
	escalated := make(map[string]bool)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		node := queue[0]
		queue = queue[1:]

		current, err := semver.NewVersion(node.Version)
		if err != nil {
			l.log().Warn("unparsable resolved version; skipping", "package", node.PURL)
			continue
		}

		index, ok := indexes[node.Name]
		if !ok {
			index, err = l.Source.Versions(ctx, node.Name)
			if err != nil {
				if l.OfflineOK {
					l.log().Warn("registry unavailable during escalation", "package", node.PURL, "error", err)
					continue
				}
				return false, err
			}
			indexes[node.Name] = index
		}

		reqs := requirementExprs(graph, node.ID)
		candidates := selectCandidates(index, current, reqs, l.Policy.Cutoff(node.Name))
		candidates = dropAttempted(candidates, node.Name, attempted)

		if len(candidates) == 0 {
			parents := l.eligibleParents(graph, indexes, node)
			queuedNew := false
			for _, parent := range parents {
				if escalated[parent.ID] {
					continue
				}
				escalated[parent.ID] = true
				queuedNew = true
				l.log().Debug("escalating to strict parent", "package", node.PURL, "parent", parent.PURL)
				queue = append([]*metadata.Node{parent}, queue...)
			}
			if !queuedNew {
				return false, l.stuck(graph, indexes, node, "no unyanked release older than the cutoff satisfies every parent requirement")
			}
			queue = append(queue, node)
			continue
		}

		if *attempts >= iterCap {
			return false, l.nonterminating(graph, indexes, node)
		}
		*attempts++

		candidate := candidates[0]
		attempted[attemptKey{name: node.Name, version: candidate.Version.String()}] = true
		l.log().Info("attempting pin",
			"package", node.PURL,
			"candidate", candidate.Version.String())

		outcome, err := l.Pinner.Pin(ctx, node.Name, node.Version, candidate.Version.String())
		if err != nil {
			return false, err
		}
		if outcome.Applied {
			l.log().Info("pin applied", "package", node.PURL, "pinned", candidate.Version.String())
			return true, nil
		}

		if len(outcome.Blockers) == 0 {
			for _, parent := range graph.StrictParents(node.ID) {
				if l.Policy.Guarded(parent) && !escalated[parent.ID] {
					escalated[parent.ID] = true
					queue = append([]*metadata.Node{parent}, queue...)
				}
			}
		} else {
			for _, blocker := range outcome.Blockers {
				target := l.blockerNode(graph, blocker)
				if target == nil || !l.Policy.Guarded(target) || escalated[target.ID] {
					continue
				}
				escalated[target.ID] = true
				l.log().Debug("escalating to blocker", "package", node.PURL, "blocker", target.PURL)
				queue = append([]*metadata.Node{target}, queue...)
			}
		}
		queue = append(queue, node)
	}

	// Queue drained without a pin: every path was attempted or escalated.
	return false, l.stuck(graph, indexes, fresh[0], "the package manager rejected every eligible downgrade")
}

// eligibleParents returns strict parents worth escalating to: guarded,
// and published before the child (a newer parent cannot be the release
// that introduced the strict requirement).
func (l *Loop) eligibleParents(graph *metadata.Graph, indexes map[string][]registry.VersionRecord, node *metadata.Node) []*metadata.Node {
	childPub := publicationOf(indexes, node)

	var out []*metadata.Node
	for _, parent := range graph.StrictParents(node.ID) {
		if !l.Policy.Guarded(parent) {
			continue
		}
		parentPub := publicationOf(indexes, parent)
		if !parentPub.IsZero() && !childPub.IsZero() && !parentPub.Before(childPub) {
			continue
		}
		out = append(out, parent)
	}
	return out
}

func (l *Loop) blockerNode(graph *metadata.Graph, blocker Blocker) *metadata.Node {
	if blocker.Version != "" {
		if node := graph.Instance(blocker.Name, blocker.Version); node != nil {
			return node
		}
	}
	instances := graph.InstancesNamed(blocker.Name)
	if len(instances) == 0 {
		return nil
	}
	return instances[0]
}

func (l *Loop) stuck(graph *metadata.Graph, indexes map[string][]registry.VersionRecord, node *metadata.Node, reason string) error {
	report := l.buildReport(graph, indexes, node, reason)
	if l.Mode == config.ModeWarn {
		l.log().Warn("cooldown guard could not cool the graph down; continuing in warn mode")
		l.log().Warn(report.Render())
		return nil
	}
	return &NoCandidateError{Report: report}
}

func (l *Loop) nonterminating(graph *metadata.Graph, indexes map[string][]registry.VersionRecord, node *metadata.Node) error {
	report := l.buildReport(graph, indexes, node, "iteration cap exceeded while escalating")
	err := fmt.Errorf("%w: last examined %s", ErrNonterminating, node.PURL)
	if l.Mode == config.ModeWarn {
		l.log().Warn("cooldown guard did not terminate; continuing in warn mode", "error", err)
		l.log().Warn(report.Render())
		return nil
	}
	return err
}

func (l *Loop) buildReport(graph *metadata.Graph, indexes map[string][]registry.VersionRecord, node *metadata.Node, reason string) *StuckReport {
	report := &StuckReport{
		PURL:    node.PURL,
		Name:    node.Name,
		Version: node.Version,
		Window:  l.Policy.EffectiveWindow(node.Name),
		Reason:  reason,
	}
	if pub := publicationOf(indexes, node); !pub.IsZero() {
		report.PublishedAt = pub
		report.Age = l.now().Sub(pub)
	}
	for _, req := range graph.RequirementsOn(node.ID) {
		parent := graph.Node(req.ParentID)
		if parent == nil {
			continue
		}
		report.Parents = append(report.Parents, ParentRequirement{
			Name:    parent.Name,
			Version: parent.Version,
			Expr:    req.Expr,
		})
	}
	return report
}

func publicationOf(indexes map[string][]registry.VersionRecord, node *metadata.Node) time.Time {
	if rec, ok := findRecord(indexes[node.Name], node.Version); ok {
		return rec.CreatedAt
	}
	return time.Time{}
}

func requirementExprs(graph *metadata.Graph, id string) []string {
	var out []string
	for _, req := range graph.RequirementsOn(id) {
		out = append(out, req.Expr)
	}
	return out
}

func dropAttempted(candidates []Candidate, name string, attempted map[attemptKey]bool) []Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if !attempted[attemptKey{name: name, version: c.Version.String()}] {
			out = append(out, c)
		}
	}
	return out
}
