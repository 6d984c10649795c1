// Package signal ties command lifetimes to process signals.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// exit is replaced in tests.
var exit = os.Exit

// NotifyContext returns a context cancelled on the first SIGINT or SIGTERM.
// A second signal exits the process with status 130 so a stuck shutdown can
// still be interrupted. Call stop to release the handler.
func NotifyContext() (context.Context, context.CancelFunc) {
	return notifyContext(context.Background(), make(chan os.Signal, 2), true)
}

func notifyContext(parent context.Context, sigs chan os.Signal, register bool) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if register {
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			exit(130)
		case <-done:
		}
	}()

	stop := func() {
		if register {
			signal.Stop(sigs)
		}
		select {
		case <-done:
		default:
			close(done)
		}
		cancel()
	}
	return ctx, stop
}
