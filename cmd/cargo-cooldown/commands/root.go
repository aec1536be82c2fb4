// Package commands implements the CLI for the cargo-cooldown guard.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/dertin/cargo-cooldown/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

// ExitError carries an explicit process exit code through the command
// tree, e.g. the forwarded cargo command's own status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// GuardFunc runs the cooldown guard for the given configuration.
type GuardFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger, manifestPath string) error

// ForwardFunc hands the remaining arguments to cargo.
type ForwardFunc func(ctx context.Context, args []string) error

// CLI is the cargo-cooldown command line interface.
type CLI struct {
	rootCmd *cobra.Command
	guard   GuardFunc
	forward ForwardFunc
	stderr  io.Writer
}

// New creates the CLI. guard and forward default to the real guard flow
// and a cargo subprocess; tests swap them out.
func New(guard GuardFunc, forward ForwardFunc) *CLI {
	c := &CLI{
		guard:   guard,
		forward: forward,
		stderr:  os.Stderr,
	}
	if c.guard == nil {
		c.guard = runGuard
	}
	if c.forward == nil {
		c.forward = forwardToCargo
	}

	c.rootCmd = &cobra.Command{
		Use:                "cargo-cooldown <cargo-command> [args...]",
		Short:              "Cargo wrapper that enforces a cooldown window for freshly published crates",
		Version:            Version,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               c.run,
	}
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams. Used for testing.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
	c.stderr = errOut
}

func (c *CLI) run(cmd *cobra.Command, args []string) error {
	inv := parseInvocation(args)
	if len(inv.Cargo) == 0 {
		return cmd.Help()
	}
	switch inv.Cargo[0] {
	case "-h", "--help":
		return cmd.Help()
	case "-V", "--version":
		fmt.Fprintf(cmd.OutOrStdout(), "cargo-cooldown %s\n", Version)
		return nil
	}

	if inv.Subcommand() == "update" {
		fmt.Fprintln(c.stderr, "cargo-cooldown is designed for commands like build, check, test, or run.\n"+
			"Running it with `cargo update` would replace the lockfile you just cooled down.\n"+
			"Invoke `cargo update` directly instead if you truly intend to refresh dependency versions.")
		return &ExitError{Code: 2}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger := newLogger(c.stderr, cfg.Verbose)

	if cfg.Mode != config.ModeOff && cfg.CooldownWindow > 0 {
		if err := c.guard(cmd.Context(), cfg, logger, inv.ManifestPath); err != nil {
			if cfg.Mode == config.ModeWarn {
				logger.Warn("cooldown guard failed; continuing due to warn mode", "error", err)
			} else {
				return err
			}
		}
	}

	return c.forward(cmd.Context(), inv.Cargo)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// forwardToCargo execs the wrapped command with inherited stdio and maps
// its exit status onto ours.
func forwardToCargo(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("running cargo: %w", err)
}
