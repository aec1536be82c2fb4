package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNonterminating is returned when the fixed point does not settle
// within the iteration cap.
var ErrNonterminating = errors.New("cooldown resolver did not reach a fixed point within the iteration cap")

// ParentRequirement is one parent edge shown in a stuck report.
type ParentRequirement struct {
	Name    string
	Version string
	Expr    string
}

// StuckReport explains why a fresh package could not be cooled down.
type StuckReport struct {
	PURL        string
	Name        string
	Version     string
	PublishedAt time.Time
	Age         time.Duration
	Window      time.Duration
	Parents     []ParentRequirement
	Reason      string
}

// Render formats the report for the user.
func (r *StuckReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cooldown violation: %s\n", r.PURL)
	if !r.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "  published %s ago (window %s)\n", formatDuration(r.Age), formatDuration(r.Window))
	} else {
		fmt.Fprintf(&b, "  publication instant unknown (window %s)\n", formatDuration(r.Window))
	}
	if len(r.Parents) > 0 {
		b.WriteString("  required by:\n")
		for _, parent := range r.Parents {
			fmt.Fprintf(&b, "    %s %s (%s)\n", parent.Name, parent.Version, parent.Expr)
		}
	}
	fmt.Fprintf(&b, "  %s\n", r.Reason)
	b.WriteString("  Options: wait for the cooldown window, relax the requirement, or add an allowlist entry.")
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d >= 48*time.Hour {
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
	return d.Round(time.Minute).String()
}

// NoCandidateError is the enforce-mode failure for a stuck package.
type NoCandidateError struct {
	Report *StuckReport
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("no acceptable version for %s %s within the %s cooldown window",
		e.Report.Name, e.Report.Version, formatDuration(e.Report.Window))
}
