// Package shutdown implements a process-wide cooperative shutdown flag:
// settable from a signal context, readable without locking from the
// reactor between epoll_wait cycles.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flag is an idempotent, atomically-readable shutdown signal.
type Flag struct {
	set atomic.Bool
}

// New returns an unset Flag.
func New() *Flag { return &Flag{} }

// Requested reports whether shutdown has been requested.
func (f *Flag) Requested() bool { return f.set.Load() }

// Request sets the flag. Safe to call more than once or concurrently;
// only the first call has any effect.
func (f *Flag) Request() { f.set.Store(true) }

// NotifyOnSignal arranges for SIGINT and SIGTERM to call Request, and
// masks SIGPIPE so that writes to a closed peer surface as ordinary
// EPIPE errors instead of terminating the process. It returns a stop
// function that undoes the signal notification.
func (f *Flag) NotifyOnSignal() (stop func()) {
	signal.Ignore(syscall.SIGPIPE)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigc:
			f.Request()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigc)
	}
}
