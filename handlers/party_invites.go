package handlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lmnt-app/lockd/app"
	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/metrics"
	"github.com/lmnt-app/lockd/parties"
	"github.com/nats-io/nats.go"
)

func RegisterPartyInvites(nc *nats.Conn, lockd *app.Lockd) {
	sendInviteHandler(nc, lockd)
	acceptInviteHandler(nc, lockd)
	pendingInvitesHandler(nc, lockd)
}

func sendInviteHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.invites.send"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyInviteSendPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyInviteSendPacket message format: %s", msg.Data)
			reply(msg, false, "ERR_INVALID_MESSAGE_FORMAT")
			return
		}

		invite, errMsg := lockd.Invites.Create(context.Background(), packet.SenderEmail, packet.PartyCode, packet.Recipient)
		if errMsg != "" {
			reply(msg, false, errMsg)
			return
		}
		metrics.InvitesSent.Inc()

		serialized, err := json.Marshal(invite)
		if err != nil {
			log.Printf("Error marshalling party invite: %v", err)
			reply(msg, false, "ERR_MARSHAL_INVITE")
			return
		}
		reply(msg, true, string(serialized))

		// broadcast so the recipient's client can surface it
		notify, _ := json.Marshal(invite)
		if err := nc.Publish(env.EnsurePrefixed("party.invites.send.notify"), notify); err != nil {
			log.Printf("Error publishing party invite notice: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party invite sends on subject '%s'", subject)
}

func acceptInviteHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.invites.accept"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.PartyInviteAcceptPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid PartyInviteAcceptPacket message format: %s", msg.Data)
			return
		}

		invite, errMsg := lockd.Invites.Accept(context.Background(), packet.Code, packet.RecipientID, packet.RecipientEmail)
		if errMsg != "" {
			reply(msg, false, errMsg)
			return
		}
		reply(msg, true, "")

		notify, err := json.Marshal(invite)
		if err != nil {
			log.Printf("Error marshalling accepted invite: %v", err)
			return
		}
		if err := nc.Publish(env.EnsurePrefixed("party.invites.accept.notify"), notify); err != nil {
			log.Printf("Error publishing invite acceptance: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for party invite acceptances on subject '%s'", subject)
}

func pendingInvitesHandler(nc *nats.Conn, lockd *app.Lockd) {
	const subject = "party.invites.pending"

	_, err := nc.Subscribe(env.EnsurePrefixed(subject), func(msg *nats.Msg) {
		var packet parties.InvitePendingPacket
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			log.Printf("Invalid InvitePendingPacket message format: %s", msg.Data)
			return
		}

		pending, err := lockd.Invites.Pending(context.Background(), packet.Recipient)
		if err != nil {
			log.Printf("Error listing pending invites for %s: %v", packet.Recipient, err)
			return
		}
		ack, err := json.Marshal(&pending)
		if err != nil {
			log.Printf("Error marshalling pending invites: %v", err)
			return
		}
		if err := msg.Respond(ack); err != nil {
			log.Printf("Error sending acknowledgment: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to subject %s: %v", subject, err)
	}
	log.Printf("Listening for pending invite reads on subject '%s'", subject)
}
