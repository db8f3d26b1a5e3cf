// Package ctxinterrupt attaches interrupt-signal handling to contexts.
package ctxinterrupt

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// DefaultInterruptSignals is the set of signals that trigger an interrupt.
var DefaultInterruptSignals = []os.Signal{
	os.Interrupt,
	os.Kill,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

type waiterKey struct{}

// waiter fans out process signals to everyone currently waiting.
type waiter struct {
	mu sync.Mutex
	ch chan struct{}
}

func (w *waiter) current() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

func (w *waiter) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.ch)
	w.ch = make(chan struct{})
}

// WithSignalWaiterMain installs the process-wide signal handler and attaches it to the context.
// It should be called once, from main.
func WithSignalWaiterMain(ctx context.Context) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, DefaultInterruptSignals...)
	w := &waiter{ch: make(chan struct{})}
	go func() {
		for range sigCh {
			w.fire()
		}
	}()
	return context.WithValue(ctx, waiterKey{}, w)
}

// Wait blocks until an interrupt signal is received, or the context is done.
// Without a signal waiter in the context, only the context can end the wait.
func Wait(ctx context.Context) error {
	w, ok := ctx.Value(waiterKey{}).(*waiter)
	if !ok {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-w.current():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
