// Package main is the entry point for hubrelay.
//
// hubrelay bridges a home-automation hub to locally registered triggers.
// It keeps one streaming session to the hub, mirrors entity state into
// Redis, and dispatches state changes, hub events, schedules, and solar
// events to handlers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/hubrelay/internal/cli"
	"github.com/nerrad567/hubrelay/internal/routines"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}

// run executes the command tree with args.
func run(ctx context.Context, args []string) error {
	root := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit, Date: date}, routines.All())
	root.SetArgs(args)
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}
