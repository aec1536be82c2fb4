package commands

import "strings"

// invocation is the parsed wrapper invocation: the args to hand to cargo
// after the guard, plus the selectors the guard itself needs.
type invocation struct {
	// ManifestPath mirrors --manifest-path so the guard probes the same
	// workspace the forwarded command will build.
	ManifestPath string
	// Cargo holds the forwarded arguments, subcommand first.
	Cargo []string
}

// parseInvocation normalizes the raw arguments. A leading "cooldown" token
// (present when invoked as `cargo cooldown ...`) is stripped;
// --manifest-path is captured but stays in the forwarded args, where
// cargo expects it too.
func parseInvocation(args []string) invocation {
	if len(args) > 0 && args[0] == "cooldown" {
		args = args[1:]
	}

	inv := invocation{Cargo: args}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if arg == "--manifest-path" && i+1 < len(args) {
			inv.ManifestPath = args[i+1]
			i++
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--manifest-path="); ok {
			inv.ManifestPath = value
		}
	}
	return inv
}

// Subcommand returns the cargo subcommand being forwarded, skipping flag
// tokens and the value of --manifest-path.
func (i invocation) Subcommand() string {
	for j := 0; j < len(i.Cargo); j++ {
		arg := i.Cargo[j]
		if arg == "--" {
			return ""
		}
		if arg == "--manifest-path" {
			j++
			continue
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return ""
}
