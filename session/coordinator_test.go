package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
)

const testParty = "PARTY00001"

func newWatchedRepo(t *testing.T) (*parties.Repository, *store.MemStore) {
	t.Helper()
	ms := store.NewMemStore()
	return parties.NewRepository(ms, users.NewRepository(ms)), ms
}

func seedParty(t *testing.T, ms *store.MemStore, members ...string) {
	t.Helper()
	require.NoError(t, ms.Set(context.Background(), parties.Path(testParty), map[string]any{
		"code":    testParty,
		"leader":  members[0],
		"members": members,
		"ready":   []string{},
		"active":  false,
	}, false))
}

func nextState(t *testing.T, c *Coordinator) State {
	t.Helper()
	select {
	case st := <-c.Events():
		return st
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state")
		return State{}
	}
}

func expectNoState(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case st := <-c.Events():
		t.Fatalf("unexpected state after teardown: %+v", st)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinDeliversInitialState(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	seedParty(t, ms, "alice@x.com", "bob@x.com")

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	defer coord.Leave()

	st := nextState(t, coord)
	assert.Equal(t, testParty, st.Code)
	assert.True(t, st.Exists)
	assert.False(t, st.AllReady)
	assert.False(t, st.BarrierReached)
	assert.Equal(t, []string{"alice@x.com", "bob@x.com"}, st.Party.Members)
}

func TestJoinMissingPartyReportsNotExists(t *testing.T) {
	repo, _ := newWatchedRepo(t)
	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join("GONEGONE12"))
	defer coord.Leave()

	st := nextState(t, coord)
	assert.False(t, st.Exists)
}

func TestBarrierFiresExactlyOncePerTransition(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	ctx := context.Background()
	seedParty(t, ms, "alice@x.com", "bob@x.com")

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	defer coord.Leave()

	nextState(t, coord) // initial

	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))
	st := nextState(t, coord)
	assert.False(t, st.AllReady)
	assert.False(t, st.BarrierReached)

	require.NoError(t, repo.ReadyUp(ctx, testParty, "bob@x.com"))
	st = nextState(t, coord)
	assert.True(t, st.AllReady)
	assert.True(t, st.BarrierReached, "edge on the completing snapshot")

	// a further commit while the set stays complete must not re-fire
	require.NoError(t, repo.SetDuration(ctx, testParty, 30))
	st = nextState(t, coord)
	assert.True(t, st.AllReady)
	assert.False(t, st.BarrierReached)
}

func TestBarrierRefiresAfterClearAndRefill(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	ctx := context.Background()
	seedParty(t, ms, "alice@x.com", "bob@x.com")

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	defer coord.Leave()

	nextState(t, coord)
	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))
	nextState(t, coord)
	require.NoError(t, repo.ReadyUp(ctx, testParty, "bob@x.com"))
	assert.True(t, nextState(t, coord).BarrierReached)

	require.NoError(t, repo.ClearReady(ctx, testParty))
	st := nextState(t, coord)
	assert.False(t, st.AllReady)

	// the same subscription arms again for the next round
	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))
	nextState(t, coord)
	require.NoError(t, repo.ReadyUp(ctx, testParty, "bob@x.com"))
	st = nextState(t, coord)
	assert.True(t, st.AllReady)
	assert.True(t, st.BarrierReached)
}

func TestLeaveStopsDelivery(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	ctx := context.Background()
	seedParty(t, ms, "alice@x.com")

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	nextState(t, coord)

	coord.Leave()
	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))
	expectNoState(t, coord)
}

func TestLeaveIsIdempotent(t *testing.T) {
	repo, _ := newWatchedRepo(t)
	coord := NewCoordinator(repo)
	coord.Leave()
	coord.Leave()
}

func TestRejoinResetsEdgeDetector(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	ctx := context.Background()
	seedParty(t, ms, "alice@x.com")
	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	st := nextState(t, coord)
	assert.True(t, st.AllReady)
	assert.True(t, st.BarrierReached, "joining a party already at the barrier observes the edge")
	coord.Leave()

	require.NoError(t, coord.Join(testParty))
	defer coord.Leave()
	st = nextState(t, coord)
	assert.True(t, st.BarrierReached, "a fresh join re-arms the detector")
}

func TestSlowConsumerKeepsBarrierEdge(t *testing.T) {
	repo, ms := newWatchedRepo(t)
	ctx := context.Background()
	seedParty(t, ms, "alice@x.com", "bob@x.com")

	coord := NewCoordinator(repo)
	require.NoError(t, coord.Join(testParty))
	defer coord.Leave()

	require.NoError(t, repo.ReadyUp(ctx, testParty, "alice@x.com"))
	require.NoError(t, repo.ReadyUp(ctx, testParty, "bob@x.com"))
	// flood without reading so the buffer overflows and evicts old states
	for i := 0; i < 200; i++ {
		require.NoError(t, repo.SetDuration(ctx, testParty, i))
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-coord.Events():
			if st.BarrierReached {
				return
			}
		case <-deadline:
			t.Fatal("barrier edge lost under consumer lag")
		}
	}
}
