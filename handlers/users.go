package handlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lmnt-app/lockd/app"
	"github.com/lmnt-app/lockd/env"
	"github.com/nats-io/nats.go"
)

type userRegisterPacket struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type userReconcilePacket struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func RegisterUsers(nc *nats.Conn, lockd *app.Lockd) {
	registerUserHandler(nc, lockd)
	reconcileHandler(nc, lockd)
}

// registerUserHandler bootstraps a profile document on first sign-in and
// stamps the login time after that.
func registerUserHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "user.register.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet userRegisterPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid userRegisterPacket message format: %s", msg.Data)
			return
		}

		ctx := context.Background()
		if err := lockd.Users.Ensure(ctx, packet.UserID, packet.Email); err != nil {
			reply(msg, false, "ERR_STORE")
			return
		}
		if err := lockd.Users.TouchLogin(ctx, packet.UserID); err != nil {
			reply(msg, false, "ERR_STORE")
			return
		}
		reply(msg, true, "")
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for user registrations on subject '%s'", subject)
}

// reconcileHandler heals a stale profile party linkage and replies with the
// still-valid code, or empty when there is none.
func reconcileHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "user.reconcile.request"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet userReconcilePacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid userReconcilePacket message format: %s", msg.Data)
			return
		}

		code, err := lockd.Parties.Reconcile(context.Background(), packet.UserID, packet.Email)
		if err != nil {
			reply(msg, false, "ERR_STORE")
			return
		}
		reply(msg, true, code)
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for profile reconciles on subject '%s'", subject)
}
