// Command cargo-cooldown wraps a cargo invocation and defers adoption of
// freshly published crates until they have aged past a configured window.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dertin/cargo-cooldown/cmd/cargo-cooldown/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := commands.New(nil, nil)
	err := cli.Execute(ctx)
	if err == nil {
		return
	}

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "cargo-cooldown: %v\n", err)
	os.Exit(1)
}
