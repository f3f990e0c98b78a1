// Package util holds small process-level helpers.
package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/allthingslinux/tux/pkg/log"
)

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives, or until ctx is
// cancelled.
func WaitForInterrupt(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() == nil {
		log.Component("runtime").Info("interrupt received, shutting down")
	}
}
