package codes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnt-app/lockd/store"
)

func TestRandomLengthAndAlphabet(t *testing.T) {
	for _, length := range []int{InviteCodeLength, PartyCodeLength} {
		code := Random(length)
		assert.Len(t, code, length)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
		}
	}
}

func TestRandomVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[Random(PartyCodeLength)] = true
	}
	// 100 draws from a 62^10 space collide with vanishing probability
	assert.Greater(t, len(seen), 90)
}

func TestGenerateUniqueReturnsUnusedCode(t *testing.T) {
	ms := store.NewMemStore()
	code, err := GenerateUnique(context.Background(), ms, "parties", "code", PartyCodeLength)
	require.NoError(t, err)
	assert.Len(t, code, PartyCodeLength)

	existing, err := ms.Query(context.Background(), "parties", "code", code, 1)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

// collidingStore reports every candidate as taken a fixed number of times,
// forcing the probe loop to redraw.
type collidingStore struct {
	*store.MemStore
	remaining int
	probes    int
}

func (c *collidingStore) Query(ctx context.Context, collection, field, equals string, limit int) ([]store.Snapshot, error) {
	c.probes++
	if c.remaining > 0 {
		c.remaining--
		return []store.Snapshot{{Path: collection + "/" + equals, Exists: true}}, nil
	}
	return c.MemStore.Query(ctx, collection, field, equals, limit)
}

func TestGenerateUniqueRetriesOnCollision(t *testing.T) {
	cs := &collidingStore{MemStore: store.NewMemStore(), remaining: 3}
	code, err := GenerateUnique(context.Background(), cs, "invites", "code", InviteCodeLength)
	require.NoError(t, err)
	assert.Len(t, code, InviteCodeLength)
	assert.Equal(t, 4, cs.probes, "three collisions then one free draw")
}
