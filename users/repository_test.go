package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnt-app/lockd/store"
)

func TestEnsureKeepsExistingLinkage(t *testing.T) {
	ms := store.NewMemStore()
	repo := NewRepository(ms)
	ctx := context.Background()

	require.NoError(t, repo.Ensure(ctx, "u-alice", "alice@x.com"))
	require.NoError(t, repo.SetPartyCode(ctx, "u-alice", "PARTY00001"))

	// a repeat registration (fresh install, re-login) must not drop the link
	require.NoError(t, repo.Ensure(ctx, "u-alice", "alice@x.com"))

	code, err := repo.PartyCode(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "PARTY00001", code)
}

func TestGetMissingProfile(t *testing.T) {
	repo := NewRepository(store.NewMemStore())
	p, ok, err := repo.Get(context.Background(), "u-nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "u-nobody", p.ID)
}

func TestPartyCodeRoundTrip(t *testing.T) {
	repo := NewRepository(store.NewMemStore())
	ctx := context.Background()
	require.NoError(t, repo.Ensure(ctx, "u-alice", "alice@x.com"))

	code, err := repo.PartyCode(ctx, "u-alice")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, repo.SetPartyCode(ctx, "u-alice", "PARTY00001"))
	code, err = repo.PartyCode(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "PARTY00001", code)

	require.NoError(t, repo.ClearPartyCode(ctx, "u-alice"))
	code, err = repo.PartyCode(ctx, "u-alice")
	require.NoError(t, err)
	assert.Empty(t, code)

	p, ok, err := repo.Get(ctx, "u-alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice@x.com", p.Email, "clearing the linkage keeps the rest of the profile")
}
