package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/8000178/firezone/internal/obs"
)

// Notifier subscribes a channel to OS signals and unsubscribes it again.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

// NewNotifier returns a Notifier backed by os/signal.
func NewNotifier() Notifier { return osNotifier{} }

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// ShutdownSignals are the signals an operator uses to end the session.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// Waiter blocks its caller until an operator interrupt arrives.
type Waiter struct {
	notifier Notifier
	signals  []os.Signal
}

// NewWaiter returns a Waiter for sigs, or for ShutdownSignals when none are given.
func NewWaiter(notifier Notifier, sigs ...os.Signal) *Waiter {
	if len(sigs) == 0 {
		sigs = ShutdownSignals()
	}
	return &Waiter{notifier: notifier, signals: sigs}
}

// Wait blocks until one of the signals is delivered or ctx is done.
func (w *Waiter) Wait(ctx context.Context) {
	// os/signal sends without blocking and drops signals on a full channel.
	ch := make(chan os.Signal, 1)
	w.notifier.Notify(ch, w.signals...)
	defer w.notifier.Stop(ch)

	select {
	case sig := <-ch:
		obs.Info("shutdown.signal", obs.Fields{"signal": sig.String()})
	case <-ctx.Done():
		obs.Info("shutdown.context", obs.Fields{"err": ctx.Err().Error()})
	}
}
