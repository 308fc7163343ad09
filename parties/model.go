package parties

import (
	"time"

	"github.com/lmnt-app/lockd/store"
)

// Collection is where party documents live, keyed by party code.
const Collection = "parties"

// Party is one focus party. Leader is fixed at creation and never
// reassigned. Members keeps insertion order for display; Ready is stored as
// an array but carries set semantics, enforced wherever it is read.
type Party struct {
	Code            string    `json:"code"`
	Leader          string    `json:"leader"`
	Members         []string  `json:"members"`
	Ready           []string  `json:"ready"`
	Active          bool      `json:"active"`
	DurationMinutes int       `json:"duration_minutes"`
	StartedAt       time.Time `json:"started_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func Path(code string) string {
	return Collection + "/" + code
}

// FromSnapshot decodes a party document snapshot. The second return is
// false when the document does not exist.
func FromSnapshot(snap store.Snapshot) (Party, bool) {
	if !snap.Exists {
		return Party{}, false
	}
	return Party{
		Code:            snap.String("code"),
		Leader:          snap.String("leader"),
		Members:         snap.Strings("members"),
		Ready:           snap.Strings("ready"),
		Active:          snap.Bool("active"),
		DurationMinutes: snap.Int("durationMinutes"),
		StartedAt:       snap.Time("startedAt"),
		CreatedAt:       snap.Time("createdAt"),
	}, true
}

func (p Party) IsMember(id string) bool {
	for _, m := range p.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (p Party) IsReady(id string) bool {
	for _, m := range p.Ready {
		if m == id {
			return true
		}
	}
	return false
}

// AllReady is the readiness barrier: every current member has signaled for
// this round. Ready entries that no longer name a member (stale writes from
// a leaver) and duplicates never count, and an empty party is never ready.
func (p Party) AllReady() bool {
	if len(p.Members) == 0 {
		return false
	}
	ready := make(map[string]bool, len(p.Ready))
	for _, r := range p.Ready {
		ready[r] = true
	}
	for _, m := range p.Members {
		if !ready[m] {
			return false
		}
	}
	return true
}

// Duration is the leader-picked block window.
func (p Party) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}
