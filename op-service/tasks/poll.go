package tasks

import (
	"context"
	"sync"
	"time"
)

// Poller runs a function on repeat at a set interval.
// The function receives a context that is cancelled when the poller stops.
// Ticks are dropped while the function is still running.
type Poller struct {
	fn func(ctx context.Context)

	interval time.Duration

	ticker *time.Ticker // nil if not running

	mu     sync.Mutex
	ctx    context.Context // non-nil when running
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(fn func(ctx context.Context), interval time.Duration) *Poller {
	return &Poller{
		fn:       fn,
		interval: interval,
	}
}

// Start starts polling in a background routine.
// Duplicate start calls are ignored. Only one routine runs.
func (pd *Poller) Start() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(pd.interval)
	pd.ctx, pd.cancel, pd.ticker = ctx, cancel, ticker

	pd.wg.Add(1)
	go func() {
		defer pd.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pd.fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the polling, and waits for a running call of the function to return.
// Duplicate calls are ignored.
func (pd *Poller) Stop() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx == nil {
		return
	}
	pd.cancel()
	pd.wg.Wait()
	pd.ctx = nil
	pd.cancel = nil
	pd.ticker = nil
}

// SetInterval changes the polling interval, also of the active ticker if running.
func (pd *Poller) SetInterval(interval time.Duration) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.interval = interval
	if pd.ticker != nil {
		pd.ticker.Reset(interval)
	}
}
