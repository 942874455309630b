// Package main implements the entry point for the PageLift API server,
// which manages document translation and extraction tasks through a
// durable queued lifecycle.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := app.run(ctx); err != nil {
		app.logger.Error("server exited with error", "error", err)
		app.cleanup()
		os.Exit(1)
	}
	app.cleanup()
}
