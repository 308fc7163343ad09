package session

import (
	"sync"

	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/store"
)

// Watcher provides live party-document subscriptions. Implemented by
// parties.Repository for in-process stores and by snapshots.Watcher over
// NATS for remote clients.
type Watcher interface {
	Watch(code string, fn func(parties.Party, bool)) (store.Subscription, error)
}

// State is one immutable observation of the watched party, emitted on the
// coordinator's event channel. AllReady is level-triggered (recomputed on
// every snapshot); BarrierReached is edge-triggered, true only on the
// snapshot where AllReady went false to true, so one barrier completion
// produces exactly one reached event and a fresh round can fire again on
// the same subscription after clear-ready resets the level.
type State struct {
	Code           string
	Party          parties.Party
	Exists         bool
	AllReady       bool
	BarrierReached bool
}

// Coordinator owns the client-side readiness subscription for one party at
// a time. Join replaces any previous subscription; Leave is an idempotent
// no-op when nothing is watched. Snapshot callbacks arrive on a background
// delivery goroutine; a generation counter guards against a stale
// subscription delivering after it was torn down.
type Coordinator struct {
	watcher Watcher
	events  chan State

	mu        sync.Mutex
	sub       store.Subscription
	gen       int
	code      string
	prevReady bool
}

func NewCoordinator(w Watcher) *Coordinator {
	return &Coordinator{
		watcher: w,
		events:  make(chan State, 64),
	}
}

// Events is the single channel all state snapshots for the watched party
// are published on, in snapshot order.
func (c *Coordinator) Events() <-chan State {
	return c.events
}

// Join starts watching a party. Any previous watch is torn down first; the
// readiness edge detector resets, so a barrier can fire once per join until
// the ready set is cleared and refilled.
func (c *Coordinator) Join(code string) error {
	c.mu.Lock()
	old := c.sub
	c.sub = nil
	c.gen++
	gen := c.gen
	c.code = code
	c.prevReady = false
	c.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}

	sub, err := c.watcher.Watch(code, func(p parties.Party, ok bool) {
		c.observe(gen, p, ok)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		// Left (or re-joined) while the subscription was being set up.
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// Leave tears down the watch and resets the barrier state. Safe to call
// when already idle; after it returns no further state is delivered for
// the old subscription even if the store pushes another snapshot.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.gen++
	c.code = ""
	c.prevReady = false
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (c *Coordinator) observe(gen int, p parties.Party, exists bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ready := exists && p.AllReady()
	edge := ready && !c.prevReady
	c.prevReady = ready
	st := State{
		Code:           c.code,
		Party:          p,
		Exists:         exists,
		AllReady:       ready,
		BarrierReached: edge,
	}
	c.mu.Unlock()
	c.emit(st)
}

// emit never blocks the delivery goroutine: when the consumer lags, the
// oldest unread state is evicted. A pending barrier edge is carried over
// onto the newer state so the reached signal cannot be skipped.
func (c *Coordinator) emit(st State) {
	for {
		select {
		case c.events <- st:
			return
		default:
			select {
			case old := <-c.events:
				if old.BarrierReached {
					st.BarrierReached = true
				}
			default:
			}
		}
	}
}
