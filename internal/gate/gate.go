// Package gate provides the per-account admission control primitive: a
// counting semaphore whose capacity can be resized, but only while no
// permits are held.
package gate

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrReleaseUnheld is returned when Release is called with no permit
	// outstanding. A programming error, never swallowed.
	ErrReleaseUnheld = errors.New("gate: release of unheld permit")

	// ErrStalePermit is returned when a permit belongs to a capacity object
	// that has since been swapped out by Resize.
	ErrStalePermit = errors.New("gate: permit from retired capacity")
)

// Permit is proof of admission. It must be returned through Release.
type Permit struct {
	sem chan struct{}
}

// Gate bounds simultaneous in-flight submissions. Capacity is backed by a
// buffered channel; Resize swaps the channel, so blocked acquirers verify
// after waking that the capacity they waited on is still current and retry
// otherwise. Admission has two tiers: while any priority acquirer is
// waiting, ordinary acquirers stand down so the next freed permit goes to
// the priority tier.
type Gate struct {
	mu    sync.Mutex
	sem   chan struct{}
	limit int
	held  int

	prio     int
	prioHere chan struct{} // closed while prio > 0
	prioGone chan struct{} // closed while prio == 0
}

// New creates a gate admitting up to limit concurrent holders.
// Panics if limit is not positive, mirroring a construction-time bug.
func New(limit int) *Gate {
	if limit <= 0 {
		panic("gate: limit must be positive")
	}
	gone := make(chan struct{})
	close(gone)
	return &Gate{
		sem:      make(chan struct{}, limit),
		limit:    limit,
		prioHere: make(chan struct{}),
		prioGone: gone,
	}
}

// Acquire blocks until a permit is available or ctx is canceled. A resize
// performed while the caller is blocked swaps the capacity channel; the
// caller then returns its token to the retired channel and retries against
// the new one instead of deadlocking or double-counting.
func (g *Gate) Acquire(ctx context.Context) (Permit, error) {
	return g.acquire(ctx, false)
}

// AcquirePriority is Acquire on the priority tier: ordinary acquirers
// blocked at the same time yield until every priority waiter is through.
func (g *Gate) AcquirePriority(ctx context.Context) (Permit, error) {
	g.noteWaiter(1)
	defer g.noteWaiter(-1)
	return g.acquire(ctx, true)
}

func (g *Gate) noteWaiter(d int) {
	g.mu.Lock()
	g.prio += d
	switch {
	case d > 0 && g.prio == 1:
		close(g.prioHere)
		g.prioGone = make(chan struct{})
	case d < 0 && g.prio == 0:
		close(g.prioGone)
		g.prioHere = make(chan struct{})
	}
	g.mu.Unlock()
}

func (g *Gate) acquire(ctx context.Context, priority bool) (Permit, error) {
	for {
		g.mu.Lock()
		sem := g.sem
		here, gone := g.prioHere, g.prioGone
		waiting := g.prio
		g.mu.Unlock()

		if !priority && waiting > 0 {
			select {
			case <-gone:
				continue
			case <-ctx.Done():
				return Permit{}, ctx.Err()
			}
		}
		if priority {
			// Not our tier's backoff signal.
			here = nil
		}

		select {
		case sem <- struct{}{}:
			g.mu.Lock()
			if g.sem != sem {
				// Capacity swapped while we were waiting; undo and retry.
				<-sem
				g.mu.Unlock()
				continue
			}
			g.held++
			g.mu.Unlock()
			return Permit{sem: sem}, nil
		case <-here:
			// A priority waiter arrived; back off and re-evaluate.
			continue
		case <-ctx.Done():
			return Permit{}, ctx.Err()
		}
	}
}

// TryAcquire attempts a non-blocking acquisition on the ordinary tier. It
// declines while priority acquirers are waiting.
func (g *Gate) TryAcquire() (Permit, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prio > 0 {
		return Permit{}, false
	}
	select {
	case g.sem <- struct{}{}:
		g.held++
		return Permit{sem: g.sem}, true
	default:
		return Permit{}, false
	}
}

// Release returns a permit. Releasing more permits than held, or a permit
// from a retired capacity object, is reported as an error.
func (g *Gate) Release(p Permit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.sem != g.sem {
		return ErrStalePermit
	}
	if g.held <= 0 {
		return ErrReleaseUnheld
	}
	g.held--
	<-g.sem
	return nil
}

// Resize changes the admission limit. It succeeds only when zero permits
// are currently held; resizing mid-flight would corrupt permit accounting.
func (g *Gate) Resize(newLimit int) bool {
	if newLimit <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if newLimit == g.limit {
		return true
	}
	if g.held > 0 || len(g.sem) > 0 {
		return false
	}
	g.sem = make(chan struct{}, newLimit)
	g.limit = newLimit
	return true
}

// Limit returns the configured capacity.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Held returns the number of permits currently held.
func (g *Gate) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Available returns the number of permits immediately acquirable.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit - len(g.sem)
}

// Idle reports whether no permits are held.
func (g *Gate) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held == 0 && len(g.sem) == 0
}
