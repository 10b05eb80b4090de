package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// rawRow holds the harmonized columns before transport-specific decoding.
type rawRow struct {
	msg         Message
	transport   string
	typ         int64
	body        sql.NullString
	mismatched  sql.NullString
	attachments sql.NullString
}

// decoders finish a row according to its transport tag.
var decoders = map[Transport]func(db *DB, r *rawRow){
	TransportText: func(db *DB, r *rawRow) {
		r.msg.ViewedReceiptCount = 0
	},
	TransportMedia: func(db *DB, r *rawRow) {
		r.msg.Attachments = db.decodeAttachments(r.msg.ID, r.attachments)
	},
}

func (db *DB) scanMessage(s rowScanner) (*Message, error) {
	var r rawRow
	m := &r.msg
	err := s.Scan(
		&m.ID.ID, &r.transport, &m.ThreadID, &r.typ, &r.body, &m.RecipientID,
		&m.DateSent, &m.DateReceived, &m.DateServer, &m.Read,
		&m.DeliveryReceiptCount, &m.ReadReceiptCount, &m.ViewedReceiptCount, &m.ReceiptTimestamp,
		&m.ExpiresIn, &m.ExpireStarted, &r.mismatched, &m.RemoteDeleted, &r.attachments,
	)
	if err != nil {
		return nil, err
	}

	m.ID.Transport = Transport(r.transport)
	decode, ok := decoders[m.ID.Transport]
	if !ok {
		return nil, fmt.Errorf("unknown transport tag %q", r.transport)
	}
	m.Type = msgtype.Type(r.typ)
	m.Body = r.body.String
	m.MismatchedIdentities = db.decodeMismatches(m.ID, r.mismatched)
	decode(db, &r)
	return m, nil
}

// decodeMismatches parses the embedded identity document. A corrupt document
// is logged and read as empty.
func (db *DB) decodeMismatches(id MessageID, raw sql.NullString) []IdentityMismatch {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []IdentityMismatch
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		db.logger.Warn("corrupt mismatched identities", zap.Stringer("message", id), zap.Error(err))
		return nil
	}
	return out
}

func (db *DB) decodeAttachments(id MessageID, raw sql.NullString) []Attachment {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []Attachment
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		db.logger.Warn("corrupt attachment aggregate", zap.Stringer("message", id), zap.Error(err))
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeMismatches(m []IdentityMismatch) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mismatched identities: %w", err)
	}
	return string(b), nil
}

func encodeMembers(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode members: %w", err)
	}
	return string(b), nil
}

func (db *DB) decodeMembers(field string, raw sql.NullString) []int64 {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []int64
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		db.logger.Warn("corrupt member list", zap.String("field", field), zap.Error(err))
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
