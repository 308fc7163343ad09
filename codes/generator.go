package codes

import (
	"context"
	"math/rand"

	"github.com/lmnt-app/lockd/store"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PartyCodeLength is the identifier length for party documents.
const PartyCodeLength = 10

// InviteCodeLength is the identifier length for party invites.
const InviteCodeLength = 5

// GenerateUnique draws random candidates of the given length and probes the
// collection until one is unused. Nothing is written here; the caller
// reserves the code by writing it.
func GenerateUnique(ctx context.Context, s store.Store, collection, field string, length int) (string, error) {
	for {
		candidate := Random(length)
		existing, err := s.Query(ctx, collection, field, candidate, 1)
		if err != nil {
			return "", err
		}
		if len(existing) == 0 {
			return candidate, nil
		}
	}
}

// Random returns an alphanumeric string of the given length.
func Random(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
