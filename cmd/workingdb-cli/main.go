package main

import (
	"context"
	"fmt"
	"os"

	"github.com/workingdb/workingdb-go/internal/cli/command"
	"github.com/workingdb/workingdb-go/internal/infra/shutdown"
)

func main() {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	if err := command.App().RunContext(ctx, os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		os.Exit(1)
	}
}
