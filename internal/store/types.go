package store

import (
	"fmt"

	"github.com/matheus3301/msgdb/internal/groupid"
	"github.com/matheus3301/msgdb/internal/msgtype"
)

// Transport tags which message table a row lives in.
type Transport string

const (
	TransportText  Transport = "text"
	TransportMedia Transport = "media"
)

// MessageID identifies a message row. Row ids are only unique per transport.
type MessageID struct {
	Transport Transport
	ID        int64
}

func (m MessageID) IsMedia() bool { return m.Transport == TransportMedia }

func (m MessageID) String() string { return fmt.Sprintf("%s:%d", m.Transport, m.ID) }

// MessageRef is a message together with its owning thread.
type MessageRef struct {
	Message  MessageID
	ThreadID int64
}

// SyncMessageID correlates a message across devices: the author and the
// timestamp the author assigned when sending.
type SyncMessageID struct {
	Author    int64
	Timestamp int64
}

// Message is a decoded row from either message table.
type Message struct {
	ID          MessageID
	ThreadID    int64
	Type        msgtype.Type
	Body        string
	RecipientID int64

	DateSent     int64
	DateReceived int64
	DateServer   int64

	Read                 bool
	DeliveryReceiptCount int
	ReadReceiptCount     int
	ViewedReceiptCount   int
	ReceiptTimestamp     int64

	ExpiresIn     int64
	ExpireStarted int64

	MismatchedIdentities []IdentityMismatch
	RemoteDeleted        bool
	Attachments          []Attachment
}

// IdentityMismatch records a recipient whose identity key changed before send.
type IdentityMismatch struct {
	RecipientID int64  `json:"recipient_id"`
	IdentityKey string `json:"identity_key"`
}

// Attachment is the row-level reference to an attachment held by the
// attachment store. The store never reads attachment bytes.
type Attachment struct {
	ID          int64  `json:"id"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name,omitempty"`
	Size        int64  `json:"size"`
	DataRef     string `json:"data_ref,omitempty"`
}

// IncomingMessage is a message received from From. Group is the group's
// recipient id when the message belongs to a group thread.
type IncomingMessage struct {
	From       int64
	Group      int64
	Type       msgtype.Type
	Body       string
	SentAt     int64
	ReceivedAt int64
	ServerAt   int64
	ExpiresIn  int64
	Read       bool

	MismatchedIdentities []IdentityMismatch
	Attachments          []Attachment
}

// OutgoingMessage is a message sent to To, an individual or a group.
type OutgoingMessage struct {
	To        int64
	Type      msgtype.Type
	Body      string
	SentAt    int64
	ExpiresIn int64

	MismatchedIdentities []IdentityMismatch
	Attachments          []Attachment
}

// InsertResult identifies a freshly inserted message.
type InsertResult struct {
	Message  MessageID
	ThreadID int64
}

// ReceiptKind selects which receipt counter an acknowledgement increments.
type ReceiptKind int

const (
	ReceiptDelivery ReceiptKind = iota + 1
	ReceiptRead
	ReceiptViewed
)

func (k ReceiptKind) String() string {
	switch k {
	case ReceiptDelivery:
		return "delivery"
	case ReceiptRead:
		return "read"
	case ReceiptViewed:
		return "viewed"
	}
	return fmt.Sprintf("receipt(%d)", int(k))
}

func (k ReceiptKind) column() string {
	switch k {
	case ReceiptRead:
		return "read_receipt_count"
	case ReceiptViewed:
		return "viewed_receipt_count"
	}
	return "delivery_receipt_count"
}

// Expiration is the resolved disappearing-message schedule of one message.
type Expiration struct {
	Message  MessageID
	Start    int64
	Duration int64
}

// ReadResult is what a read sync touched.
type ReadResult struct {
	Touched  []MessageRef
	Expiring []Expiration
}

// Thread is the denormalized summary of one conversation.
type Thread struct {
	ID          int64
	RecipientID int64
	Date        int64

	MessageCount int
	UnreadCount  int

	Snippet                 string
	SnippetType             msgtype.Type
	SnippetURI              string
	SnippetDeliveryReceipts int
	SnippetReadReceipts     int

	Archived  bool
	Pinned    bool
	LastSeen  int64
	ExpiresIn int64
}

// GroupRecord is a stored group.
type GroupRecord struct {
	ID                int64
	GroupID           groupid.ID
	RecipientID       int64
	Title             string
	Members           []int64
	PendingMembers    []int64
	UnmigratedMembers []int64
	MasterKey         []byte
	Revision          int64
	ExpectedV2ID      groupid.ID
	Active            bool
}

func (g *GroupRecord) IsV2() bool { return g.GroupID.IsV2() }

// GroupState is an authoritative V2 group snapshot.
type GroupState struct {
	Revision int64
	Title    string
	Members  []int64
	Pending  []int64
}

// GroupChange lists the members named by one authoritative update.
type GroupChange struct {
	Added     []int64
	Removed   []int64
	Invited   []int64
	Uninvited []int64
	Promoted  []int64
}

// Touched returns every member the change names.
func (c GroupChange) Touched() []int64 {
	var out []int64
	for _, s := range [][]int64{c.Added, c.Removed, c.Invited, c.Uninvited, c.Promoted} {
		out = append(out, s...)
	}
	return out
}
