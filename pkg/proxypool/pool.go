package proxypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warpdl/proxydl/pkg/logger"
	"golang.org/x/time/rate"
)

// DefaultSettleDelay is the minimum spacing between two refills.
const DefaultSettleDelay = 3 * time.Second

// ErrProxyExhausted is returned by a refill that produced no proxies.
// Acquire treats it as a delayed start and keeps waiting.
var ErrProxyExhausted = errors.New("proxy pool exhausted")

// Options configures a Pool.
type Options struct {
	// Source replenishes the pool when a worker finds it empty.
	// Without a source Acquire waits for a Release.
	Source Source
	// SettleDelay spaces refills apart. Zero selects DefaultSettleDelay.
	SettleDelay time.Duration
	Logger      logger.Logger
}

// Stats is a point-in-time view of pool membership.
type Stats struct {
	Available int
	// Borrowed is acquired minus released records.
	Borrowed int
}

// Pool is the rotating proxy collection shared by every download worker.
// Every operation is mutually exclusive; the Source call of a refill runs
// without the lock and only the enqueue step is exclusive.
type Pool struct {
	mu        sync.Mutex
	items     []Record
	borrowed  int
	wake      chan struct{}
	refilling bool

	source  Source
	limiter *rate.Limiter
	log     logger.Logger
}

// New creates a pool seeded with the initial records.
func New(opts Options, initial ...Record) *Pool {
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Pool{
		items:   append([]Record(nil), initial...),
		wake:    make(chan struct{}),
		source:  opts.Source,
		limiter: rate.NewLimiter(rate.Every(settle), 1),
		log:     logger.OrNop(opts.Logger),
	}
}

// Acquire borrows the proxy at the head of the pool. When the pool is empty
// it refills from the Source, or waits for another worker to release one.
// It only fails when ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Record, error) {
	for {
		p.mu.Lock()
		if len(p.items) > 0 {
			rec := p.popLocked()
			p.borrowed++
			p.mu.Unlock()
			return rec, nil
		}
		wake := p.wake
		startRefill := p.source != nil && !p.refilling
		if startRefill {
			p.refilling = true
		}
		p.mu.Unlock()

		if !startRefill {
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return Record{}, ctx.Err()
			}
		}

		n, err := p.refill(ctx, wake)
		switch {
		case ctx.Err() != nil:
			return Record{}, ctx.Err()
		case errors.Is(err, ErrProxyExhausted):
			p.log.Warning("proxypool: %v, delaying start", err)
		case err != nil:
			p.log.Warning("proxypool: refill failed: %v", err)
		default:
			p.log.Debug("proxypool: refill added %d proxies", n)
		}
	}
}

// Release returns a borrowed proxy to the tail of the pool. A release
// with nothing borrowed is a caller bug; it is logged and the count
// stays at zero.
func (p *Pool) Release(r Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, r)
	if p.borrowed > 0 {
		p.borrowed--
	} else {
		p.log.Error("proxypool: release of %s without a matching acquire", r)
	}
	p.broadcastLocked()
}

// Swap returns old to the tail and borrows the head in the same critical
// section, so the borrowed count never changes. If old is the only proxy
// it is handed straight back.
func (p *Pool) Swap(old Record) Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, old)
	return p.popLocked()
}

// Refill asks the Source for more proxies, honouring the settling delay.
// If another refill is already running it waits for that one instead.
func (p *Pool) Refill(ctx context.Context) (int, error) {
	if p.source == nil {
		return 0, fmt.Errorf("%w: no proxy source configured", ErrProxyExhausted)
	}
	p.mu.Lock()
	if p.refilling {
		wake := p.wake
		p.mu.Unlock()
		select {
		case <-wake:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	p.refilling = true
	p.mu.Unlock()
	return p.refill(ctx, nil)
}

// refill performs one rate limited refill. The caller must have set
// p.refilling. A close of wake while waiting on the limiter means a proxy
// came back, so the refill is abandoned.
func (p *Pool) refill(ctx context.Context, wake <-chan struct{}) (n int, err error) {
	var records []Record
	defer func() {
		p.mu.Lock()
		p.items = append(p.items, records...)
		p.refilling = false
		p.broadcastLocked()
		p.mu.Unlock()
	}()

	r := p.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-wake:
			t.Stop()
			r.Cancel()
			return 0, nil
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			return 0, ctx.Err()
		}
	}

	records, err = p.source.Proxies(ctx)
	if err != nil {
		return len(records), fmt.Errorf("%w: %w", ErrProxyExhausted, err)
	}
	if len(records) == 0 {
		return 0, ErrProxyExhausted
	}
	return len(records), nil
}

// Stats returns the current membership counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Available: len(p.items), Borrowed: p.borrowed}
}

func (p *Pool) popLocked() Record {
	rec := p.items[0]
	p.items[0] = Record{}
	p.items = p.items[1:]
	return rec
}

// broadcastLocked wakes every goroutine waiting for pool membership to change.
func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}
