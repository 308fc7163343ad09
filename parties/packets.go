package parties

import (
	"time"

	"github.com/google/uuid"
)

// Wire packets for the NATS request-reply surface.

type PartyCreatePacket struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type PartyJoinPacket struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type PartyLeavePacket struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type PartyReadyPacket struct {
	PartyCode string `json:"party_code"`
	Email     string `json:"email"`
}

type PartyActivePacket struct {
	PartyCode       string `json:"party_code"`
	State           bool   `json:"state"`
	DurationMinutes int    `json:"duration_minutes"`
}

type PartyFetchPacket struct {
	PartyCode string `json:"party_code"`
}

type LeaderCheckPacket struct {
	PartyCode string `json:"party_code"`
	Email     string `json:"email"`
}

type GenericPartyResponsePacket struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PartyInvite is an in-flight invitation, keyed by a short invite code.
type PartyInvite struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	PartyCode string    `json:"party_code"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"` // recipient user ID
	Expiry    time.Time `json:"expiry"`
}

type PartyInviteSendPacket struct {
	SenderEmail string `json:"sender_email"`
	PartyCode   string `json:"party_code"`
	Recipient   string `json:"recipient"`
}

type PartyInviteAcceptPacket struct {
	Code           string `json:"code"`
	RecipientID    string `json:"recipient_id"`
	RecipientEmail string `json:"recipient_email"`
}

type InvitePendingPacket struct {
	Recipient string `json:"recipient"`
}

type PartyInviteExpirePacket struct {
	Code      string `json:"code"`
	PartyCode string `json:"party_code"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// PartySnapshotPacket is broadcast on party.snapshot.<code> after every
// committed mutation of a party document.
type PartySnapshotPacket struct {
	Party   Party  `json:"party"`
	Exists  bool   `json:"exists"`
	Version uint64 `json:"version"`
}
