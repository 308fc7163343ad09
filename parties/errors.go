package parties

import "errors"

var (
	// ErrAlreadyInParty rejects party creation while the caller still
	// belongs to one; not retryable without leaving first.
	ErrAlreadyInParty = errors.New("already in a party")

	// ErrNoPartyCode means the caller's profile carries no party linkage.
	ErrNoPartyCode = errors.New("no party code on profile")

	// ErrMalformedParty means the linked party document is missing or has
	// no members array; reconciliation clears the stale linkage.
	ErrMalformedParty = errors.New("party document missing or malformed")

	// ErrNotLeader rejects leader-only operations from plain members.
	ErrNotLeader = errors.New("not the party leader")
)

// Reason maps a repository error onto the wire reason strings handlers
// reply with.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInParty):
		return "ERR_ALREADY_IN_PARTY"
	case errors.Is(err, ErrNoPartyCode):
		return "ERR_NO_PARTY_CODE"
	case errors.Is(err, ErrMalformedParty):
		return "ERR_MALFORMED_PARTY"
	case errors.Is(err, ErrNotLeader):
		return "ERR_NOT_LEADER"
	case err != nil:
		return "ERR_STORE"
	}
	return ""
}
