package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/witx/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		stop()
		runner.logger.Fatalf("application error: %v", err)
	}
}
