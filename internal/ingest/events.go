package ingest

import (
	"github.com/matheus3301/msgdb/internal/groupid"
	"github.com/matheus3301/msgdb/internal/receipts"
	"github.com/matheus3301/msgdb/internal/store"
)

// Bus kinds consumed by the engine. Payloads are the types below.
const (
	EventMessage    = "inbound.message"
	EventSent       = "inbound.sent"
	EventHistory    = "inbound.history"
	EventReceipts   = "inbound.receipts"
	EventReadSync   = "inbound.read_sync"
	EventGroupState = "inbound.group_state"

	EventStatus       = "inbound.status"
	EventRemoteDelete = "inbound.remote_delete"
)

// LegacyGroup describes the V1 group a message was addressed to.
type LegacyGroup struct {
	ID      groupid.ID
	Title   string
	Members []int64
}

// Message is a decrypted message received from another user.
type Message struct {
	Incoming store.IncomingMessage
	Media    bool
	Group    *LegacyGroup
}

// Sent is a message this account sent, either locally or as a transcript
// from a linked device.
type Sent struct {
	Outgoing store.OutgoingMessage
	Media    bool
}

// History is a batch of messages stored in one transaction.
type History struct {
	Received []Message
	Sent     []Sent
}

type Receipts struct {
	Acks []receipts.Ack
}

// ReadSync carries reads made on a linked device. ReadAt is when the reads
// happened; it starts disappearing timers.
type ReadSync struct {
	Reads  []receipts.ReadSync
	ReadAt int64
}

// GroupState is an authoritative V2 group snapshot and the change that
// produced it.
type GroupState struct {
	MasterKey   []byte
	RecipientID int64
	State       store.GroupState
	Change      *store.GroupChange
}

// Status is a send or decrypt outcome for a stored message. Transition names
// one of msgtype.Transitions ("sent_secure", "sent_failed", "rate_limited",
// ...) and may be empty. Non-nil Mismatches replaces the message's identity
// mismatch document.
type Status struct {
	Message    store.MessageID
	Transition string
	Mismatches []store.IdentityMismatch
}

// RemoteDelete is an author's request to delete a message they sent.
type RemoteDelete struct {
	Target store.SyncMessageID
}
