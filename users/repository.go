package users

import (
	"context"
	"time"

	"github.com/lmnt-app/lockd/store"
)

// Collection is where profile documents live, keyed by the opaque user ID.
const Collection = "users"

// Profile is the user-side record. PartyCode is the foreign key into the
// parties collection and is kept consistent with party membership by the
// party repository; the email is a display attribute only, never a key.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	PartyCode string    `json:"party_code"`
	JoinedAt  time.Time `json:"joined_at"`
	LastLogin time.Time `json:"last_login"`
}

type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

func Path(userID string) string {
	return Collection + "/" + userID
}

// Ensure writes the initial profile document for a fresh user. Merging
// keeps an existing partyCode intact if the profile already exists.
func (r *Repository) Ensure(ctx context.Context, userID, email string) error {
	return r.store.Set(ctx, Path(userID), map[string]any{
		"email":    email,
		"joinedAt": r.store.ServerTimestamp(),
	}, true)
}

// TouchLogin stamps the last-login time.
func (r *Repository) TouchLogin(ctx context.Context, userID string) error {
	return r.store.Set(ctx, Path(userID), map[string]any{
		"lastLogin": r.store.ServerTimestamp(),
	}, true)
}

func (r *Repository) Get(ctx context.Context, userID string) (Profile, bool, error) {
	snap, err := r.store.Get(ctx, Path(userID))
	if err != nil {
		return Profile{}, false, err
	}
	if !snap.Exists {
		return Profile{ID: userID}, false, nil
	}
	return Profile{
		ID:        userID,
		Email:     snap.String("email"),
		PartyCode: snap.String("partyCode"),
		JoinedAt:  snap.Time("joinedAt"),
		LastLogin: snap.Time("lastLogin"),
	}, true, nil
}

// PartyCode reads just the linkage field. Missing profile reads as empty.
func (r *Repository) PartyCode(ctx context.Context, userID string) (string, error) {
	snap, err := r.store.Get(ctx, Path(userID))
	if err != nil {
		return "", err
	}
	return snap.String("partyCode"), nil
}

// SetPartyCode merge-writes the linkage so other profile fields survive.
func (r *Repository) SetPartyCode(ctx context.Context, userID, code string) error {
	return r.store.Set(ctx, Path(userID), map[string]any{"partyCode": code}, true)
}

// ClearPartyCode resets the linkage to empty, the self-heal terminal state.
func (r *Repository) ClearPartyCode(ctx context.Context, userID string) error {
	return r.SetPartyCode(ctx, userID, "")
}
