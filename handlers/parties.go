package handlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lmnt-app/lockd/app"
	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/metrics"
	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/snapshots"
	"github.com/nats-io/nats.go"
)

func RegisterParties(nc *nats.Conn, lockd *app.Lockd) {
	createHandler(nc, lockd)
	joinHandler(nc, lockd)
	leaveHandler(nc, lockd)
	readyHandler(nc, lockd)
	unreadyHandler(nc, lockd)
	clearReadyHandler(nc, lockd)
	activeHandler(nc, lockd)
	leaderCheckHandler(nc, lockd)
	getHandler(nc, lockd)
	fetchHandler(nc, lockd)
}

func createHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.create.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyCreatePacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyCreatePacket message format: %s", msg.Data)
			return
		}

		code, err := lockd.Parties.Create(context.Background(), packet.UserID, packet.Email)
		if err != nil {
			metrics.PartyRequests.WithLabelValues("create", "error").Inc()
			reply(msg, false, parties.Reason(err))
			return
		}
		metrics.PartyRequests.WithLabelValues("create", "success").Inc()
		reply(msg, true, code)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party creations on subject '%s'", subject)
}

func joinHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.join.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyJoinPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyJoinPacket message format: %s", msg.Data)
			return
		}

		code, err := lockd.Parties.Join(context.Background(), packet.UserID, packet.Email)
		if err != nil {
			metrics.PartyRequests.WithLabelValues("join", "error").Inc()
			reply(msg, false, parties.Reason(err))
			return
		}
		metrics.PartyRequests.WithLabelValues("join", "success").Inc()
		reply(msg, true, code)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party join requests on subject '%s'", subject)
}

func leaveHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.leave.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyLeavePacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyLeavePacket message format: %s", msg.Data)
			return
		}

		ctx := context.Background()
		code, err := lockd.Users.PartyCode(ctx, packet.UserID)
		if err == nil && code != "" {
			err = lockd.Parties.Leave(ctx, packet.UserID, packet.Email, code)
		}
		if err != nil {
			metrics.PartyRequests.WithLabelValues("leave", "error").Inc()
			reply(msg, false, parties.Reason(err))
			return
		}
		metrics.PartyRequests.WithLabelValues("leave", "success").Inc()
		reply(msg, true, "")
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party leaves on subject '%s'", subject)
}

func readyHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.ready.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyReadyPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyReadyPacket message format: %s", msg.Data)
			return
		}

		err := lockd.Parties.ReadyUp(context.Background(), packet.PartyCode, packet.Email)
		replyCounted(msg, "ready", err)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for ready-ups on subject '%s'", subject)
}

func unreadyHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.unready.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyReadyPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyReadyPacket message format: %s", msg.Data)
			return
		}

		err := lockd.Parties.Unready(context.Background(), packet.PartyCode, packet.Email)
		replyCounted(msg, "unready", err)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for ready retractions on subject '%s'", subject)
}

func clearReadyHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.ready.clear.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyFetchPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyFetchPacket message format: %s", msg.Data)
			return
		}

		err := lockd.Parties.ClearReady(context.Background(), packet.PartyCode)
		replyCounted(msg, "clear_ready", err)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for ready clears on subject '%s'", subject)
}

func activeHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.active.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyActivePacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyActivePacket message format: %s", msg.Data)
			return
		}

		ctx := context.Background()
		var err error
		if packet.State {
			err = lockd.Parties.SetActive(ctx, packet.PartyCode, packet.DurationMinutes)
		} else {
			err = lockd.Parties.SetInactive(ctx, packet.PartyCode)
		}
		replyCounted(msg, "active", err)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for active toggles on subject '%s'", subject)
}

func leaderCheckHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.leader.check.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.LeaderCheckPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid LeaderCheckPacket message format: %s", msg.Data)
			return
		}

		isLeader, err := lockd.Parties.CheckLeader(context.Background(), packet.PartyCode, packet.Email)
		if err != nil {
			reply(msg, false, parties.Reason(err))
			return
		}
		if isLeader {
			reply(msg, true, "LEADER")
		} else {
			reply(msg, true, "MEMBER")
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for leader checks on subject '%s'", subject)
}

func getHandler(nc *nats.Conn, lockd *app.Lockd) {
	_, err := nc.Subscribe(env.EnsurePrefixed(snapshots.GetSubject), func(msg *nats.Msg) {
		var packet parties.PartyFetchPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyFetchPacket message format: %s", msg.Data)
			return
		}

		party, ok, err := lockd.Parties.Get(context.Background(), packet.PartyCode)
		if err != nil {
			log.Printf("Error reading party %s: %v", packet.PartyCode, err)
			return
		}
		ack, err := json.Marshal(&parties.PartySnapshotPacket{Party: party, Exists: ok})
		if err != nil {
			log.Printf("Error marshalling party get response: %v", err)
			return
		}
		if err := msg.Respond(ack); err != nil {
			log.Printf("Error sending acknowledgment: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", snapshots.GetSubject, err)
	}
	log.Printf("Listening for party reads on subject '%s'", snapshots.GetSubject)
}

func fetchHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.fetch.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		data, err := lockd.Parties.All(context.Background())
		if err != nil {
			log.Printf("Error fetching parties: %v", err)
			return
		}
		ack, err := json.Marshal(&data)
		if err != nil {
			log.Printf("Error marshalling fetch party packet response: %v", err)
			return
		}
		if err := msg.Respond(ack); err != nil {
			log.Printf("Error sending acknowledgment: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party fetch requests on subject '%s'", subject)
}

func replyCounted(msg *nats.Msg, op string, err error) {
	if err != nil {
		metrics.PartyRequests.WithLabelValues(op, "error").Inc()
		reply(msg, false, parties.Reason(err))
		return
	}
	metrics.PartyRequests.WithLabelValues(op, "success").Inc()
	reply(msg, true, "")
}

func reply(msg *nats.Msg, success bool, reason string) {
	ack, err1 := json.Marshal(&parties.GenericPartyResponsePacket{
		Success: success,
		Message: reason,
	})
	if err1 != nil {
		log.Printf("Error marshalling party packet response: %v", err1)
		return
	}
	if err := msg.Respond(ack); err != nil {
		log.Printf("Error sending acknowledgment: %v", err)
	}
}
