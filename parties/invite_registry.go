package parties

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmnt-app/lockd/codes"
	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
	"github.com/nats-io/nats.go"
)

// InviteCollection holds pending invites, keyed by their short code.
const InviteCollection = "invites"

// InviteTTL is how long an invite stays acceptable.
const InviteTTL = 60 * time.Second

// InviteRegistry tracks in-flight party invites. Invites live in the
// document store; the expiry timers are local, since expiry only tidies up
// and notifies. A stale invite is caught again at accept time.
type InviteRegistry struct {
	mu      sync.Mutex
	store   store.Store
	parties *Repository
	users   *users.Repository
	nc      *nats.Conn // nil disables expiry notices
	timers  map[string]*time.Timer
}

func NewInviteRegistry(s store.Store, parties *Repository, u *users.Repository, nc *nats.Conn) *InviteRegistry {
	return &InviteRegistry{
		store:   s,
		parties: parties,
		users:   u,
		nc:      nc,
		timers:  make(map[string]*time.Timer),
	}
}

func invitePath(code string) string {
	return InviteCollection + "/" + code
}

// Create issues an invite from a party member to a user outside it.
// Returns the invite and an empty reason, or nil and a wire reason.
func (r *InviteRegistry) Create(ctx context.Context, senderEmail, partyCode, recipientID string) (*PartyInvite, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	party, ok, err := r.parties.Get(ctx, partyCode)
	if err != nil {
		return nil, "ERR_STORE"
	}
	if !ok {
		return nil, "ERR_INVALID_PARTY"
	}
	if !party.IsMember(senderEmail) {
		return nil, "ERR_NO_PERMISSION"
	}
	linked, err := r.users.PartyCode(ctx, recipientID)
	if err != nil {
		return nil, "ERR_STORE"
	}
	if linked != "" {
		return nil, "ERR_ALREADY_IN_PARTY"
	}
	pending, err := r.store.QueryContains(ctx, InviteCollection, "recipients", recipientID, 1)
	if err != nil {
		return nil, "ERR_STORE"
	}
	for _, snap := range pending {
		if snap.String("partyCode") == partyCode {
			log.Printf("Invite registry already contains an invite to %s for party %s", recipientID, partyCode)
			return nil, "ERR_ALREADY_INVITED"
		}
	}

	code, err := codes.GenerateUnique(ctx, r.store, InviteCollection, "code", codes.InviteCodeLength)
	if err != nil {
		return nil, "ERR_STORE"
	}
	invite := PartyInvite{
		ID:        uuid.New(),
		Code:      code,
		PartyCode: partyCode,
		Sender:    senderEmail,
		Recipient: recipientID,
		Expiry:    time.Now().Add(InviteTTL),
	}
	err = r.store.Set(ctx, invitePath(code), map[string]any{
		"code":       code,
		"partyCode":  partyCode,
		"sender":     senderEmail,
		"recipients": []string{recipientID},
		"expiry":     invite.Expiry,
	}, false)
	if err != nil {
		return nil, "ERR_STORE"
	}

	r.timers[code] = time.AfterFunc(InviteTTL, func() {
		r.expire(code)
	})

	log.Printf("Party %s invite sent: %+v", partyCode, invite)
	return &invite, ""
}

// Accept consumes the invite: the recipient's profile is linked to the
// party first, then joined, which is the same order the join repository
// path expects.
func (r *InviteRegistry) Accept(ctx context.Context, code, recipientID, recipientEmail string) (*PartyInvite, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.store.Get(ctx, invitePath(code))
	if err != nil {
		return nil, "ERR_STORE"
	}
	if !snap.Exists {
		log.Printf("Attempted to accept invalid invite: %s", code)
		return nil, "ERR_INVALID_INVITE"
	}
	invite := inviteFromSnapshot(snap)
	if invite.Recipient != recipientID {
		return nil, "ERR_INVALID_INVITE"
	}
	// Recheck the linkage: the recipient may have created or joined a
	// party since the invite was sent. Honoring it would put them in two
	// parties at once. The invite stays pending until it expires.
	linked, err := r.users.PartyCode(ctx, recipientID)
	if err != nil {
		return nil, "ERR_STORE"
	}
	if linked != "" {
		log.Printf("Invite(%s) recipient %s is already in party %s", code, recipientID, linked)
		return nil, "ERR_ALREADY_IN_PARTY"
	}

	if t := r.timers[code]; t != nil {
		t.Stop()
		delete(r.timers, code)
	}
	if err := r.store.Delete(ctx, invitePath(code)); err != nil {
		return nil, "ERR_STORE"
	}

	if _, ok, err := r.parties.Get(ctx, invite.PartyCode); err != nil || !ok {
		log.Printf("Attempted to accept an invite(%s) to a non-existent party: %s", code, invite.PartyCode)
		return nil, "ERR_INVALID_PARTY"
	}
	if err := r.users.SetPartyCode(ctx, recipientID, invite.PartyCode); err != nil {
		return nil, "ERR_STORE"
	}
	if _, err := r.parties.Join(ctx, recipientID, recipientEmail); err != nil {
		return nil, Reason(err)
	}

	log.Printf("Party invite(%s) accepted", code)
	return &invite, ""
}

// Pending returns every invite addressed to a user.
func (r *InviteRegistry) Pending(ctx context.Context, recipientID string) ([]PartyInvite, error) {
	snaps, err := r.store.QueryContains(ctx, InviteCollection, "recipients", recipientID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]PartyInvite, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, inviteFromSnapshot(snap))
	}
	return out, nil
}

func (r *InviteRegistry) expire(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	snap, err := r.store.Get(ctx, invitePath(code))
	if err != nil || !snap.Exists {
		return // already accepted
	}
	invite := inviteFromSnapshot(snap)
	if err := r.store.Delete(ctx, invitePath(code)); err != nil {
		log.Printf("Error deleting expired invite %s: %v", code, err)
		return
	}
	delete(r.timers, code)
	log.Printf("Party invite expired: %+v", invite)

	if r.nc == nil {
		return
	}
	serialized, err := json.Marshal(&PartyInviteExpirePacket{
		Code:      invite.Code,
		PartyCode: invite.PartyCode,
		Sender:    invite.Sender,
		Recipient: invite.Recipient,
	})
	if err != nil {
		log.Printf("Error marshalling invite (%s) expiry: %v", code, err)
		return
	}
	if err := r.nc.Publish(env.EnsurePrefixed("party.invites.expire"), serialized); err != nil {
		log.Printf("Error publishing invite (%s) expiry: %v", code, err)
	}
}

func inviteFromSnapshot(snap store.Snapshot) PartyInvite {
	recipient := ""
	if rs := snap.Strings("recipients"); len(rs) > 0 {
		recipient = rs[0]
	}
	return PartyInvite{
		Code:      snap.String("code"),
		PartyCode: snap.String("partyCode"),
		Sender:    snap.String("sender"),
		Recipient: recipient,
		Expiry:    snap.Time("expiry"),
	}
}
