package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lmnt-app/lockd/blocker"
	"github.com/lmnt-app/lockd/parties"
)

type Phase string

const (
	PhaseNoParty           Phase = "NoParty"
	PhaseInParty           Phase = "InParty"
	PhaseAwaitingSelection Phase = "AwaitingSelection"
	PhaseReady             Phase = "Ready"
	PhaseActive            Phase = "Active"
	PhaseCoolingDown       Phase = "CoolingDown"
	PhaseEnded             Phase = "Ended"
)

// BreakDuration is the fixed local countdown a break lasts.
const BreakDuration = 60 * time.Second

var (
	ErrNoSelection = errors.New("no block targets selected")
	ErrNoDuration  = errors.New("leader must pick a duration")
	ErrWrongPhase  = errors.New("operation not valid in current phase")
)

// Status is the presentation-facing view of one member's session.
type Status struct {
	Phase     Phase
	PartyCode string
	IsLeader  bool
	AllReady  bool
	Active    bool
	Remaining time.Duration
	Members   []string
	Ready     []string
}

// Controller drives one member's party lifecycle: create or join, select
// targets (and duration, for the leader), ready up, dispatch the block when
// the barrier fires, run the local countdown, and unwind on leave. All
// store effects go through the party repository; all live state arrives
// through the coordinator's event channel, consumed by a single goroutine.
type Controller struct {
	repo     *parties.Repository
	coord    *Coordinator
	enforcer blocker.Enforcer
	userID   string
	email    string
	now      func() time.Time

	mu            sync.Mutex
	phase         Phase
	code          string
	isLeader      bool
	selection     blocker.Selection
	duration      int // minutes, leader-picked
	readyPressed  bool
	readyInFlight bool // ReadyUp committed or committing, phase not yet updated
	allReady      bool
	prevDocActive bool
	party         parties.Party
	blockEnd      time.Time // end of the enforcement window
	breakEnd      time.Time // end of an in-progress break

	stop chan struct{}
	done chan struct{}
}

func NewController(repo *parties.Repository, watcher Watcher, enforcer blocker.Enforcer, userID, email string) *Controller {
	return &Controller{
		repo:     repo,
		coord:    NewCoordinator(watcher),
		enforcer: enforcer,
		userID:   userID,
		email:    email,
		now:      func() time.Time { return time.Now().UTC() },
		phase:    PhaseNoParty,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start reconciles the persisted party linkage and begins consuming events.
// A dangling code is healed to empty; a live party is resumed at whatever
// state its document implies, including an in-flight block window.
func (c *Controller) Start(ctx context.Context) error {
	code, err := c.repo.Reconcile(ctx, c.userID, c.email)
	if err != nil {
		return err
	}
	if code != "" {
		if err := c.resume(ctx, code); err != nil {
			return err
		}
	}
	go c.run()
	return nil
}

// Close stops the event loop and tears down subscriptions without leaving
// the party.
func (c *Controller) Close() {
	close(c.stop)
	<-c.done
	c.coord.Leave()
}

func (c *Controller) resume(ctx context.Context, code string) error {
	party, ok, err := c.repo.Get(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return nil // healed between reconcile and read
	}
	isLeader, err := c.repo.CheckLeader(ctx, code, c.email)
	if err != nil {
		return err
	}
	if err := c.coord.Join(code); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
	c.isLeader = isLeader
	c.party = party
	c.duration = party.DurationMinutes
	c.prevDocActive = party.Active
	end := party.StartedAt.Add(party.Duration())
	switch {
	case party.Active && c.now().Before(end):
		// The platform block outlives process restarts; only the local
		// countdown needs rebuilding.
		c.phase = PhaseActive
		c.blockEnd = end
	case party.IsReady(c.email):
		c.phase = PhaseReady
		c.readyPressed = true
	default:
		c.phase = PhaseInParty
	}
	log.Printf("Resumed party %s as %s (leader=%v, phase=%s)", code, c.email, isLeader, c.phase)
	return nil
}

func (c *Controller) run() {
	defer close(c.done)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-c.stop:
			return
		case st := <-c.coord.Events():
			c.handleState(st)
		case now := <-tick.C:
			c.handleTick(now.UTC())
		}
	}
}

// handleState consumes one observed party snapshot. Barrier dispatch order
// is fixed: enforce the block, mark the party active, start the countdown,
// then clear the ready set. A slow reader sees either "not yet active" or
// "active with empty ready", never "active with stale ready".
func (c *Controller) handleState(st State) {
	ctx := context.Background()

	c.mu.Lock()
	if st.Code != c.code {
		c.mu.Unlock()
		return
	}
	if !st.Exists {
		// Party vanished under us; heal the linkage and fall back.
		code := c.code
		c.resetLocked()
		c.mu.Unlock()
		c.coord.Leave()
		log.Printf("Party %s no longer exists, clearing local state", code)
		if err := c.repo.Leave(ctx, c.userID, c.email, code); err != nil {
			log.Printf("Error healing party code %s: %v", code, err)
		}
		return
	}

	c.party = st.Party
	c.allReady = st.AllReady
	docActive := st.Party.Active
	wasActive := c.prevDocActive
	c.prevDocActive = docActive

	// The barrier edge is one-shot, so it must not depend on the local phase
	// alone: the completing snapshot can arrive between our own ReadyUp
	// commit and ToggleReady's phase update. The document listing us ready
	// proves the in-flight ready-up landed, so dispatch now; ToggleReady
	// sees the phase change and leaves it alone.
	atBarrier := st.BarrierReached &&
		(c.phase == PhaseReady || (c.readyInFlight && st.Party.IsReady(c.email)))

	switch {
	case atBarrier:
		minutes := st.Party.DurationMinutes
		code := c.code
		sel := c.selection
		c.phase = PhaseActive
		c.blockEnd = c.now().Add(time.Duration(minutes) * time.Minute)
		c.readyPressed = false
		c.readyInFlight = false
		c.mu.Unlock()

		c.enforcer.EnforceBlock(sel, minutes)
		if err := c.repo.SetActive(ctx, code, minutes); err != nil {
			log.Printf("Error marking party %s active: %v", code, err)
		}
		if err := c.repo.ClearReady(ctx, code); err != nil {
			log.Printf("Error clearing ready set for party %s: %v", code, err)
		}
		log.Printf("Barrier reached for party %s, block dispatched for %dm", code, minutes)
		return

	case docActive && c.phase != PhaseActive && c.phase != PhaseCoolingDown && c.phase != PhaseEnded &&
		c.now().Before(st.Party.StartedAt.Add(st.Party.Duration())):
		// Another client won the dispatch race, or we rejoined mid-window.
		minutes := st.Party.DurationMinutes
		sel := c.selection
		c.phase = PhaseActive
		c.blockEnd = st.Party.StartedAt.Add(st.Party.Duration())
		c.readyPressed = false
		c.mu.Unlock()
		// No local selection means nothing to enforce, e.g. joining a
		// window that is already in force; the countdown still runs.
		if !sel.IsEmpty() {
			c.enforcer.EnforceBlock(sel, minutes)
		}
		return

	case wasActive && !docActive && (c.phase == PhaseActive || c.phase == PhaseCoolingDown):
		// The window was ended elsewhere (leader finished, or a leave).
		c.phase = PhaseEnded
		c.blockEnd = time.Time{}
		c.breakEnd = time.Time{}
		c.mu.Unlock()
		c.enforcer.ClearBlock()
		return
	}
	c.mu.Unlock()
}

func (c *Controller) handleTick(now time.Time) {
	ctx := context.Background()

	c.mu.Lock()
	switch {
	case c.phase == PhaseCoolingDown && !now.Before(c.breakEnd):
		c.phase = PhaseActive
		c.breakEnd = time.Time{}
		c.mu.Unlock()
		return

	case c.phase == PhaseActive && !c.blockEnd.IsZero() && !now.Before(c.blockEnd):
		code := c.code
		isLeader := c.isLeader
		c.phase = PhaseEnded
		c.blockEnd = time.Time{}
		c.mu.Unlock()

		c.enforcer.ClearBlock()
		log.Printf("Countdown complete for party %s", code)
		if isLeader {
			if err := c.repo.SetInactive(ctx, code); err != nil {
				log.Printf("Error marking party %s inactive: %v", code, err)
			}
		}
		return
	}
	c.mu.Unlock()
}

// CreateParty starts a fresh party with the caller as leader. Local state
// is untouched until every write succeeds, so a failed create leaves the
// caller in NoParty.
func (c *Controller) CreateParty(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.phase != PhaseNoParty {
		c.mu.Unlock()
		return "", ErrWrongPhase
	}
	c.mu.Unlock()

	code, err := c.repo.Create(ctx, c.userID, c.email)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.code = code
	c.isLeader = true
	c.phase = PhaseInParty
	c.mu.Unlock()
	if err := c.coord.Join(code); err != nil {
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		return "", err
	}
	return code, nil
}

// JoinParty enters the party the caller's profile links to (written by an
// accepted invite). Leadership is checked once on entry.
func (c *Controller) JoinParty(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.phase != PhaseNoParty {
		c.mu.Unlock()
		return "", ErrWrongPhase
	}
	c.mu.Unlock()

	code, err := c.repo.Join(ctx, c.userID, c.email)
	if err != nil {
		return "", err
	}
	isLeader, err := c.repo.CheckLeader(ctx, code, c.email)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.code = code
	c.isLeader = isLeader
	c.phase = PhaseInParty
	c.mu.Unlock()
	if err := c.coord.Join(code); err != nil {
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		return "", err
	}
	return code, nil
}

// SelectTargets picks what to block this round.
func (c *Controller) SelectTargets(sel blocker.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseInParty, PhaseAwaitingSelection, PhaseEnded:
		c.selection = sel
		c.phase = PhaseAwaitingSelection
		return nil
	}
	return ErrWrongPhase
}

// SelectDuration picks the group block window; only meaningful from the
// leader, whose duration applies to everyone.
func (c *Controller) SelectDuration(minutes int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isLeader {
		return parties.ErrNotLeader
	}
	switch c.phase {
	case PhaseInParty, PhaseAwaitingSelection, PhaseEnded:
		c.duration = minutes
		return nil
	}
	return ErrWrongPhase
}

// ToggleReady signals readiness for the round, or retracts it. Readying is
// gated on a non-empty selection, and for the leader also a non-zero
// duration; a member needs no duration of their own. Retraction explicitly
// removes the ready entry so the rest of the party does not stall on a
// member who changed their mind.
func (c *Controller) ToggleReady(ctx context.Context) error {
	c.mu.Lock()
	if c.readyPressed {
		code := c.code
		c.mu.Unlock()
		if err := c.repo.Unready(ctx, code, c.email); err != nil {
			return err
		}
		c.mu.Lock()
		c.readyPressed = false
		if c.phase == PhaseReady {
			c.phase = PhaseAwaitingSelection
		}
		c.mu.Unlock()
		return nil
	}

	if c.phase != PhaseAwaitingSelection {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.selection.IsEmpty() {
		c.mu.Unlock()
		return ErrNoSelection
	}
	if c.isLeader && c.duration <= 0 {
		c.mu.Unlock()
		return ErrNoDuration
	}
	code := c.code
	isLeader := c.isLeader
	minutes := c.duration
	c.readyInFlight = true
	c.mu.Unlock()

	if isLeader {
		// Duration lands before the leader's ready, so whoever observes
		// the completed barrier also observes the duration.
		if err := c.repo.SetDuration(ctx, code, minutes); err != nil {
			c.mu.Lock()
			c.readyInFlight = false
			c.mu.Unlock()
			return err
		}
	}
	if err := c.repo.ReadyUp(ctx, code, c.email); err != nil {
		c.mu.Lock()
		c.readyInFlight = false
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.readyInFlight = false
	if c.phase == PhaseAwaitingSelection {
		// If the completing snapshot already dispatched the barrier, the
		// phase moved on without us; keep it.
		c.readyPressed = true
		c.phase = PhaseReady
	}
	c.mu.Unlock()
	return nil
}

// TakeBreak interrupts the local countdown for a fixed short window. Group
// state (ready set, active flag) is untouched; the block stays in force.
func (c *Controller) TakeBreak() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return ErrWrongPhase
	}
	c.phase = PhaseCoolingDown
	c.breakEnd = c.now().Add(BreakDuration)
	return nil
}

// Leave exits the party from any state: the active flag is dropped if a
// window was in force, membership and any stale ready entry are removed,
// the profile linkage clears, both live subscriptions tear down before
// return, and the local countdown stops.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.code == "" {
		c.mu.Unlock()
		return nil
	}
	code := c.code
	inWindow := c.phase == PhaseActive || c.phase == PhaseCoolingDown
	c.resetLocked()
	c.mu.Unlock()

	c.coord.Leave()
	if inWindow {
		c.enforcer.ClearBlock()
		if err := c.repo.SetInactive(ctx, code); err != nil {
			log.Printf("Error marking party %s inactive on leave: %v", code, err)
		}
	}
	return c.repo.Leave(ctx, c.userID, c.email, code)
}

func (c *Controller) resetLocked() {
	c.phase = PhaseNoParty
	c.code = ""
	c.isLeader = false
	c.selection = blocker.Selection{}
	c.duration = 0
	c.readyPressed = false
	c.readyInFlight = false
	c.allReady = false
	c.prevDocActive = false
	c.party = parties.Party{}
	c.blockEnd = time.Time{}
	c.breakEnd = time.Time{}
}

// Status reports the current view for the presentation layer.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Phase:     c.phase,
		PartyCode: c.code,
		IsLeader:  c.isLeader,
		AllReady:  c.allReady,
		Active:    c.phase == PhaseActive || c.phase == PhaseCoolingDown,
		Members:   append([]string(nil), c.party.Members...),
		Ready:     append([]string(nil), c.party.Ready...),
	}
	now := c.now()
	switch c.phase {
	case PhaseCoolingDown:
		st.Remaining = c.breakEnd.Sub(now)
	case PhaseActive:
		if !c.blockEnd.IsZero() {
			st.Remaining = c.blockEnd.Sub(now)
		}
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	return st
}

// FormatDuration renders a countdown the way the timer UI shows it.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}
