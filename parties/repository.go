package parties

import (
	"context"
	"log"

	"github.com/lmnt-app/lockd/codes"
	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
)

// Repository handles every transition against party documents. All
// mutations are merge-writes or native set operations on a single document.
type Repository struct {
	store store.Store
	users *users.Repository
}

func NewRepository(s store.Store, u *users.Repository) *Repository {
	return &Repository{store: s, users: u}
}

// Create reserves a fresh party code and seeds the party with its creator
// as leader. ErrAlreadyInParty when the creator's profile already links a
// party or their email appears in any party's members. The party write and
// the profile write are not transactional; Reconcile cleans up a crash in
// between from the profile side.
func (r *Repository) Create(ctx context.Context, userID, email string) (string, error) {
	existing, err := r.users.PartyCode(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return "", ErrAlreadyInParty
	}
	member, err := r.store.QueryContains(ctx, Collection, "members", email, 1)
	if err != nil {
		return "", err
	}
	if len(member) > 0 {
		return "", ErrAlreadyInParty
	}

	code, err := codes.GenerateUnique(ctx, r.store, Collection, "code", codes.PartyCodeLength)
	if err != nil {
		return "", err
	}
	err = r.store.Set(ctx, Path(code), map[string]any{
		"code":      code,
		"leader":    email,
		"members":   []string{email},
		"ready":     []string{},
		"active":    false,
		"createdAt": r.store.ServerTimestamp(),
	}, false)
	if err != nil {
		return "", err
	}
	if err := r.users.SetPartyCode(ctx, userID, code); err != nil {
		return "", err
	}
	log.Printf("Party %s created by %s", code, email)
	return code, nil
}

// Join adds the caller to the party their profile links to (an accepted
// invite writes the linkage first). The members write is a set-union, so a
// duplicate join never double-lists a member.
func (r *Repository) Join(ctx context.Context, userID, email string) (string, error) {
	code, err := r.users.PartyCode(ctx, userID)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ErrNoPartyCode
	}
	snap, err := r.store.Get(ctx, Path(code))
	if err != nil {
		return "", err
	}
	if !snap.Exists || snap.Fields["members"] == nil {
		return "", ErrMalformedParty
	}
	if err := r.store.UnionAppend(ctx, Path(code), "members", email); err != nil {
		return "", err
	}
	return code, nil
}

// Leave removes the caller from members and any stale ready entry via
// ArrayRemove, so simultaneous leavers cannot clobber each other, then
// clears the profile linkage.
func (r *Repository) Leave(ctx context.Context, userID, email, code string) error {
	snap, err := r.store.Get(ctx, Path(code))
	if err != nil {
		return err
	}
	if snap.Exists {
		if err := r.store.ArrayRemove(ctx, Path(code), "ready", email); err != nil {
			return err
		}
		if err := r.store.ArrayRemove(ctx, Path(code), "members", email); err != nil {
			return err
		}
	}
	return r.users.ClearPartyCode(ctx, userID)
}

// ReadyUp records one member's readiness. Set-union, so concurrent
// ready-ups commute and repeats are no-ops.
func (r *Repository) ReadyUp(ctx context.Context, code, email string) error {
	return r.store.UnionAppend(ctx, Path(code), "ready", email)
}

// Unready retracts a readiness signal before the barrier fires.
func (r *Repository) Unready(ctx context.Context, code, email string) error {
	return r.store.ArrayRemove(ctx, Path(code), "ready", email)
}

// SetDuration persists the leader-picked block duration. Written before the
// leader's own ready-up, so anyone observing the completed barrier also
// sees the duration.
func (r *Repository) SetDuration(ctx context.Context, code string, minutes int) error {
	return r.store.Set(ctx, Path(code), map[string]any{"durationMinutes": minutes}, true)
}

// ClearReady resets the round. Redundant clears from clients racing the
// barrier are harmless.
func (r *Repository) ClearReady(ctx context.Context, code string) error {
	return r.store.Set(ctx, Path(code), map[string]any{"ready": []string{}}, true)
}

// SetActive marks the blocking window open, with the duration and a server
// start timestamp so a restarted client can rebuild its countdown.
func (r *Repository) SetActive(ctx context.Context, code string, durationMinutes int) error {
	return r.store.Set(ctx, Path(code), map[string]any{
		"active":          true,
		"durationMinutes": durationMinutes,
		"startedAt":       r.store.ServerTimestamp(),
	}, true)
}

func (r *Repository) SetInactive(ctx context.Context, code string) error {
	return r.store.Set(ctx, Path(code), map[string]any{"active": false}, true)
}

// CheckLeader reports whether the given member created the party.
func (r *Repository) CheckLeader(ctx context.Context, code, email string) (bool, error) {
	snap, err := r.store.Get(ctx, Path(code))
	if err != nil {
		return false, err
	}
	return snap.Exists && snap.String("leader") == email, nil
}

// Get reads one party; the bool is false when it does not exist.
func (r *Repository) Get(ctx context.Context, code string) (Party, bool, error) {
	snap, err := r.store.Get(ctx, Path(code))
	if err != nil {
		return Party{}, false, err
	}
	p, ok := FromSnapshot(snap)
	return p, ok, nil
}

// All returns every live party (fetch surface).
func (r *Repository) All(ctx context.Context) ([]Party, error) {
	snaps, err := r.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	out := make([]Party, 0, len(snaps))
	for _, snap := range snaps {
		if p, ok := FromSnapshot(snap); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Reconcile verifies the caller's persisted party linkage on start. A
// linkage pointing at a missing party, or one that no longer lists the
// caller, is cleared to empty.
func (r *Repository) Reconcile(ctx context.Context, userID, email string) (string, error) {
	code, err := r.users.PartyCode(ctx, userID)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", nil
	}
	party, ok, err := r.Get(ctx, code)
	if err != nil {
		return "", err
	}
	if !ok || !party.IsMember(email) {
		log.Printf("Healing stale party code %q for user %s", code, userID)
		if err := r.users.ClearPartyCode(ctx, userID); err != nil {
			return "", err
		}
		return "", nil
	}
	return code, nil
}

// Watch subscribes to a party's live document. Snapshots arrive on a
// background goroutine in commit order.
func (r *Repository) Watch(code string, fn func(Party, bool)) (store.Subscription, error) {
	return r.store.Subscribe(Path(code), func(snap store.Snapshot) {
		p, ok := FromSnapshot(snap)
		fn(p, ok)
	})
}
