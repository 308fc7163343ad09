package parties

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
)

func newTestInvites(t *testing.T) (*InviteRegistry, *Repository, *users.Repository) {
	t.Helper()
	ms := store.NewMemStore()
	u := users.NewRepository(ms)
	repo := NewRepository(ms, u)
	return NewInviteRegistry(ms, repo, u, nil), repo, u
}

func TestInviteCreateAndAccept(t *testing.T) {
	reg, repo, u := newTestInvites(t)
	ctx := context.Background()
	registerUser(t, u, "u-alice", "alice@x.com")
	registerUser(t, u, "u-bob", "bob@x.com")

	code, err := repo.Create(ctx, "u-alice", "alice@x.com")
	require.NoError(t, err)

	invite, reason := reg.Create(ctx, "alice@x.com", code, "u-bob")
	require.Empty(t, reason)
	require.NotNil(t, invite)
	assert.Len(t, invite.Code, 5)
	assert.Equal(t, code, invite.PartyCode)
	assert.Equal(t, "alice@x.com", invite.Sender)
	assert.Equal(t, "u-bob", invite.Recipient)
	assert.False(t, invite.Expiry.IsZero())

	pending, err := reg.Pending(ctx, "u-bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, invite.Code, pending[0].Code)

	accepted, reason := reg.Accept(ctx, invite.Code, "u-bob", "bob@x.com")
	require.Empty(t, reason)
	require.NotNil(t, accepted)

	party, _, err := repo.Get(ctx, code)
	require.NoError(t, err)
	assert.True(t, party.IsMember("bob@x.com"))

	linked, err := u.PartyCode(ctx, "u-bob")
	require.NoError(t, err)
	assert.Equal(t, code, linked)

	pending, err = reg.Pending(ctx, "u-bob")
	require.NoError(t, err)
	assert.Empty(t, pending, "accepting consumes the invite")
}

func TestInviteCreateValidation(t *testing.T) {
	reg, repo, u := newTestInvites(t)
	ctx := context.Background()
	registerUser(t, u, "u-alice", "alice@x.com")
	registerUser(t, u, "u-bob", "bob@x.com")
	registerUser(t, u, "u-carol", "carol@x.com")

	code, err := repo.Create(ctx, "u-alice", "alice@x.com")
	require.NoError(t, err)

	_, reason := reg.Create(ctx, "alice@x.com", "GONEGONE12", "u-bob")
	assert.Equal(t, "ERR_INVALID_PARTY", reason)

	_, reason = reg.Create(ctx, "carol@x.com", code, "u-bob")
	assert.Equal(t, "ERR_NO_PERMISSION", reason)

	_, reason = reg.Create(ctx, "alice@x.com", code, "u-alice")
	assert.Equal(t, "ERR_ALREADY_IN_PARTY", reason)

	_, reason = reg.Create(ctx, "alice@x.com", code, "u-bob")
	require.Empty(t, reason)
	_, reason = reg.Create(ctx, "alice@x.com", code, "u-bob")
	assert.Equal(t, "ERR_ALREADY_INVITED", reason)
}

func TestInviteAcceptValidation(t *testing.T) {
	reg, repo, u := newTestInvites(t)
	ctx := context.Background()
	registerUser(t, u, "u-alice", "alice@x.com")
	registerUser(t, u, "u-bob", "bob@x.com")

	_, reason := reg.Accept(ctx, "NOPE1", "u-bob", "bob@x.com")
	assert.Equal(t, "ERR_INVALID_INVITE", reason)

	code, err := repo.Create(ctx, "u-alice", "alice@x.com")
	require.NoError(t, err)
	invite, reason := reg.Create(ctx, "alice@x.com", code, "u-bob")
	require.Empty(t, reason)

	_, reason = reg.Accept(ctx, invite.Code, "u-carol", "carol@x.com")
	assert.Equal(t, "ERR_INVALID_INVITE", reason, "only the addressed recipient can accept")
}

func TestInviteAcceptRefusedOnceRecipientJoinedElsewhere(t *testing.T) {
	reg, repo, u := newTestInvites(t)
	ctx := context.Background()
	registerUser(t, u, "u-alice", "alice@x.com")
	registerUser(t, u, "u-bob", "bob@x.com")

	aliceParty, err := repo.Create(ctx, "u-alice", "alice@x.com")
	require.NoError(t, err)
	invite, reason := reg.Create(ctx, "alice@x.com", aliceParty, "u-bob")
	require.Empty(t, reason)

	// bob starts his own party while the invite is still live
	bobParty, err := repo.Create(ctx, "u-bob", "bob@x.com")
	require.NoError(t, err)

	_, reason = reg.Accept(ctx, invite.Code, "u-bob", "bob@x.com")
	assert.Equal(t, "ERR_ALREADY_IN_PARTY", reason)

	// one party per user: bob is only in his own
	p, _, err := repo.Get(ctx, aliceParty)
	require.NoError(t, err)
	assert.False(t, p.IsMember("bob@x.com"))

	linked, err := u.PartyCode(ctx, "u-bob")
	require.NoError(t, err)
	assert.Equal(t, bobParty, linked)
}

func TestInviteExpiryRemovesInvite(t *testing.T) {
	reg, repo, u := newTestInvites(t)
	ctx := context.Background()
	registerUser(t, u, "u-alice", "alice@x.com")
	registerUser(t, u, "u-bob", "bob@x.com")

	code, err := repo.Create(ctx, "u-alice", "alice@x.com")
	require.NoError(t, err)
	invite, reason := reg.Create(ctx, "alice@x.com", code, "u-bob")
	require.Empty(t, reason)

	reg.expire(invite.Code)

	pending, err := reg.Pending(ctx, "u-bob")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, reason = reg.Accept(ctx, invite.Code, "u-bob", "bob@x.com")
	assert.Equal(t, "ERR_INVALID_INVITE", reason)
}
