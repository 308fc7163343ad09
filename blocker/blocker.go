package blocker

import "log"

// Selection names what gets blocked. The tokens are opaque to lockd; the
// platform layer interprets them.
type Selection struct {
	Apps       []string `json:"apps"`
	Categories []string `json:"categories"`
	WebDomains []string `json:"web_domains"`
}

func (s Selection) IsEmpty() bool {
	return len(s.Apps) == 0 && len(s.Categories) == 0 && len(s.WebDomains) == 0
}

// Enforcer is the platform block capability. Calls are fire-and-forget and
// must be safe to repeat in quick succession (last write wins): when the
// barrier fires on several clients at once, each enforces locally.
type Enforcer interface {
	EnforceBlock(selection Selection, durationMinutes int)
	ClearBlock()
}

// LogEnforcer just records what would have been blocked. Failure policy for
// real enforcers is the same: log, never retry.
type LogEnforcer struct{}

func (LogEnforcer) EnforceBlock(selection Selection, durationMinutes int) {
	log.Printf("Enforcing block for %dm: %d apps, %d categories, %d domains",
		durationMinutes, len(selection.Apps), len(selection.Categories), len(selection.WebDomains))
}

func (LogEnforcer) ClearBlock() {
	log.Printf("Cleared block")
}
