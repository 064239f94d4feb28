package lock

import (
	"context"
	"time"

	"github.com/kvlock/kvlock/v1/metrics"
)

// minRenewDelay floors the interval between renewal ticks so the renewer
// never busy-loops when a renew call takes longer than a third of the lease.
const minRenewDelay = 10 * time.Millisecond

// renewer keeps one lease alive in the background. It re-arms a one-shot
// timer after every tick and stops itself once local TTL math says the lease
// is gone. stop is synchronous: when it returns, no further renew call will
// be issued.
type renewer struct {
	l     *Lock
	stopc chan struct{}
	donec chan struct{}
}

func startRenewer(l *Lock) *renewer {
	r := &renewer{
		l:     l,
		stopc: make(chan struct{}),
		donec: make(chan struct{}),
	}
	metrics.ActiveRenewers.Inc()
	go r.run()
	return r
}

func (r *renewer) run() {
	defer close(r.donec)
	defer metrics.ActiveRenewers.Dec()
	defer r.l.detach(r)

	timer := time.NewTimer(renewDelay(r.l.lease, 0))
	defer timer.Stop()

	for {
		select {
		case <-r.stopc:
			return
		case <-timer.C:
		}
		if !r.l.IsAcquired() {
			return
		}
		start := time.Now()
		// Errors are swallowed, ErrLockReleased included: the loop keeps
		// ticking until the IsAcquired check above observes local expiry.
		_ = r.l.Renew(context.Background())
		timer.Reset(renewDelay(r.l.lease, time.Since(start)))
	}
}

// stop halts the renewer and waits for its goroutine to exit.
func (r *renewer) stop() {
	close(r.stopc)
	<-r.donec
}

// renewDelay is a third of the lease minus the time spent on the last renew
// call, floored at minRenewDelay.
func renewDelay(lease, spent time.Duration) time.Duration {
	d := lease/3 - spent
	if d < minRenewDelay {
		d = minRenewDelay
	}
	return d
}
