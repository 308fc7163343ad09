package snapshots

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/store"
	"github.com/nats-io/nats.go"
)

// GetSubject serves one-shot party reads, used to seed a fresh watch.
const GetSubject = "party.get.request"

const fetchTimeout = 2 * time.Second

// Watcher implements the session watch contract over NATS for clients that
// do not share the service's store. The current state is fetched once via
// request-reply, then live snapshots stream in from the bridge. Stale
// ordering between the seed and the first live snapshot is tolerated by the
// consumer's version-agnostic barrier math; deliveries themselves are
// serialized.
type Watcher struct {
	nc *nats.Conn
}

func NewWatcher(nc *nats.Conn) *Watcher {
	return &Watcher{nc: nc}
}

func (w *Watcher) Watch(code string, fn func(parties.Party, bool)) (store.Subscription, error) {
	var mu sync.Mutex
	deliver := func(p parties.Party, ok bool) {
		mu.Lock()
		fn(p, ok)
		mu.Unlock()
	}

	sub, err := w.nc.Subscribe(env.EnsurePrefixed(SubjectPrefix+code), func(msg *nats.Msg) {
		var packet parties.PartySnapshotPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartySnapshotPacket message format: %s", msg.Data)
			return
		}
		deliver(packet.Party, packet.Exists)
	})
	if err != nil {
		return nil, store.StoreError("watch party", err)
	}

	// Seed with the current document so a quiet party is still observed.
	req, _ := json.Marshal(&parties.PartyFetchPacket{PartyCode: code})
	resp, err := w.nc.Request(env.EnsurePrefixed(GetSubject), req, fetchTimeout)
	if err != nil {
		log.Printf("Error fetching initial snapshot for party %s: %v", code, err)
	} else {
		var packet parties.PartySnapshotPacket
		if err := json.Unmarshal(resp.Data, &packet); err != nil {
			log.Printf("Invalid PartySnapshotPacket message format: %s", resp.Data)
		} else {
			deliver(packet.Party, packet.Exists)
		}
	}

	return natsSub{sub: sub}, nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() {
	if err := s.sub.Unsubscribe(); err != nil {
		log.Printf("Error unsubscribing party watch: %v", err)
	}
}
