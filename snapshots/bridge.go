package snapshots

import (
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/metrics"
	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/store"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is where party snapshots are broadcast; one subject per
// party code.
const SubjectPrefix = "party.snapshot."

// NewBridge republishes every committed party mutation onto NATS so
// out-of-process clients observe the same ordered snapshot stream local
// subscribers get. It also counts barrier completions per party as the
// ready set transitions to full coverage.
func NewBridge(ms *store.MemStore, nc *nats.Conn) (store.Subscription, error) {
	var mu sync.Mutex
	wasReady := make(map[string]bool)

	return ms.WatchCollection(parties.Collection, func(snap store.Snapshot) {
		code := strings.TrimPrefix(snap.Path, parties.Collection+"/")
		p, ok := parties.FromSnapshot(snap)

		mu.Lock()
		ready := ok && p.AllReady()
		if ready && !wasReady[code] {
			metrics.BarrierCompletions.Inc()
		}
		if ok {
			wasReady[code] = ready
		} else {
			delete(wasReady, code)
		}
		mu.Unlock()

		data, err := json.Marshal(&parties.PartySnapshotPacket{
			Party:   p,
			Exists:  ok,
			Version: snap.Version,
		})
		if err != nil {
			log.Printf("Error marshalling snapshot for party %s: %v", code, err)
			return
		}
		if err := nc.Publish(env.EnsurePrefixed(SubjectPrefix+code), data); err != nil {
			log.Printf("Error publishing snapshot for party %s: %v", code, err)
		}
	})
}
