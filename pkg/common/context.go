package common

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func createGracefulCancellationContext() (context.Context, func(), chan os.Signal) {
	ctx := context.Background()
	ctx, forceCancel := context.WithCancel(ctx)

	// trap Ctrl+C and call cancel on the context
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			forceCancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(c)
		forceCancel()
	}, c
}

// CreateGracefulCancellationContext returns a context cancelled on SIGINT or SIGTERM.
func CreateGracefulCancellationContext() (context.Context, func()) {
	ctx, cancel, _ := createGracefulCancellationContext()
	return ctx, cancel
}
