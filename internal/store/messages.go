package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

// MessageTable is one message record kind. The text and media tables share
// this implementation and differ only by descriptor.
type MessageTable struct {
	db *DB
	d  Descriptor

	insertSQL string
	getSQL    string
}

func newMessageTable(db *DB, d Descriptor) *MessageTable {
	return &MessageTable{
		db: db,
		d:  d,
		insertSQL: fmt.Sprintf(`
			INSERT INTO %s (thread_id, recipient_id, %s, body, %s, %s, date_server, read, expires_in, mismatched_identities)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Table, d.TypeColumn, d.DateSentColumn, d.DateReceivedColumn),
		getSQL: d.singleRowQuery("m._id = ?"),
	}
}

func (t *MessageTable) Descriptor() Descriptor { return t.d }

func (t *MessageTable) Transport() Transport { return t.d.Transport }

func (t *MessageTable) id(row int64) MessageID {
	return MessageID{Transport: t.d.Transport, ID: row}
}

// Get returns the message with the given row id, or nil if absent.
func (t *MessageTable) Get(ctx context.Context, id int64) (*Message, error) {
	m, err := t.db.scanMessage(t.db.conn(ctx).QueryRowContext(ctx, t.getSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s message: %w", t.d.Transport, err)
	}
	return m, nil
}

// ThreadIDFor returns the thread owning a message, or 0 if absent.
func (t *MessageTable) ThreadIDFor(ctx context.Context, id int64) (int64, error) {
	var threadID int64
	err := t.db.conn(ctx).QueryRowContext(ctx,
		fmt.Sprintf("SELECT thread_id FROM %s WHERE _id = ?", t.d.Table), id).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("thread for message: %w", err)
	}
	return threadID, nil
}

// InsertIncoming stores a received message. The second return is false when
// the message was a duplicate (same sender, sent timestamp and thread) and
// nothing was written.
func (t *MessageTable) InsertIncoming(ctx context.Context, in IncomingMessage) (InsertResult, bool, error) {
	typ := in.Type
	if typ.Base() == 0 {
		typ = typ.With(msgtype.Inbox)
	}
	threadRecipient := in.From
	if in.Group != 0 {
		threadRecipient = in.Group
	}
	received := in.ReceivedAt
	if received == 0 {
		received = time.Now().UnixMilli()
	}
	server := in.ServerAt
	if server == 0 {
		server = -1
	}

	msg := &Message{
		Type:                 typ,
		Body:                 in.Body,
		RecipientID:          in.From,
		DateSent:             in.SentAt,
		DateReceived:         received,
		DateServer:           server,
		Read:                 in.Read,
		ExpiresIn:            in.ExpiresIn,
		MismatchedIdentities: in.MismatchedIdentities,
		Attachments:          in.Attachments,
	}
	return t.insert(ctx, threadRecipient, msg)
}

// InsertOutgoing stores a message sent from this device. Receipts that
// arrived before the message are applied by the registered insert hooks.
func (t *MessageTable) InsertOutgoing(ctx context.Context, out OutgoingMessage) (InsertResult, bool, error) {
	typ := out.Type
	if typ.Base() == 0 {
		typ = typ.With(msgtype.Outbox)
	}
	sent := out.SentAt
	if sent == 0 {
		sent = time.Now().UnixMilli()
	}

	msg := &Message{
		Type:                 typ,
		Body:                 out.Body,
		RecipientID:          out.To,
		DateSent:             sent,
		DateReceived:         sent,
		DateServer:           -1,
		Read:                 true,
		ExpiresIn:            out.ExpiresIn,
		MismatchedIdentities: out.MismatchedIdentities,
		Attachments:          out.Attachments,
	}
	return t.insert(ctx, out.To, msg)
}

func (t *MessageTable) insert(ctx context.Context, threadRecipient int64, msg *Message) (InsertResult, bool, error) {
	if len(msg.Attachments) > 0 && !t.d.HasAttachments {
		return InsertResult{}, false, fmt.Errorf("%s messages cannot carry attachments", t.d.Transport)
	}

	var res InsertResult
	inserted := false
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		threadID, err := t.db.threads.GetOrCreate(ctx, threadRecipient)
		if err != nil {
			return err
		}

		dup, err := t.isDuplicate(ctx, msg, threadID)
		if err != nil {
			return err
		}
		if dup {
			t.db.logger.Debug("duplicate message ignored",
				zap.String("transport", string(t.d.Transport)),
				zap.Int64("date_sent", msg.DateSent),
				zap.Int64("recipient_id", msg.RecipientID))
			return nil
		}

		mismatched, err := encodeMismatches(msg.MismatchedIdentities)
		if err != nil {
			return err
		}
		r, err := t.db.conn(ctx).ExecContext(ctx, t.insertSQL,
			threadID, msg.RecipientID, int64(msg.Type), nullableString(msg.Body),
			msg.DateSent, msg.DateReceived, msg.DateServer, msg.Read, msg.ExpiresIn, mismatched)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", t.d.Transport, err)
		}
		rowID, err := r.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s message id: %w", t.d.Transport, err)
		}
		msg.ID = t.id(rowID)
		msg.ThreadID = threadID

		if err := t.insertAttachments(ctx, rowID, msg.Attachments); err != nil {
			return err
		}
		if err := t.db.runInsertHooks(ctx, msg); err != nil {
			return err
		}
		if _, err := t.db.threads.Update(ctx, threadID, !msg.Type.IsSilent()); err != nil {
			return err
		}
		t.db.notifyMessage(ctx, msg.ID, threadID)

		res = InsertResult{Message: msg.ID, ThreadID: threadID}
		inserted = true
		return nil
	})
	if err != nil {
		return InsertResult{}, false, err
	}
	return res, inserted, nil
}

// isDuplicate is the explicit check half of check-then-insert. A row is a
// duplicate only when it has the same direction: recipient_id names the
// sender of an incoming row but the destination of an outgoing one.
func (t *MessageTable) isDuplicate(ctx context.Context, msg *Message, threadID int64) (bool, error) {
	var exists bool
	err := t.db.conn(ctx).QueryRowContext(ctx, fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ? AND recipient_id = ? AND thread_id = ? AND ((%s & %d) IN (%s)) = ?)",
		t.d.Table, t.d.DateSentColumn, t.d.TypeColumn, msgtype.BaseMask, baseList(msgtype.OutgoingBases())),
		msg.DateSent, msg.RecipientID, threadID, msg.Type.IsOutgoing()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return exists, nil
}

func (t *MessageTable) insertAttachments(ctx context.Context, messageID int64, atts []Attachment) error {
	for i := range atts {
		a := &atts[i]
		r, err := t.db.conn(ctx).ExecContext(ctx, `
			INSERT INTO attachment (message_id, content_type, file_name, size, data_ref)
			VALUES (?, ?, ?, ?, ?)`,
			messageID, a.ContentType, nullableString(a.FileName), a.Size, nullableString(a.DataRef))
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		if a.ID, err = r.LastInsertId(); err != nil {
			return fmt.Errorf("insert attachment id: %w", err)
		}
	}
	return nil
}

// MarkAs applies a masked type transition and refreshes the owning thread.
// A missing message is a no-op.
func (t *MessageTable) MarkAs(ctx context.Context, id int64, tr msgtype.Transition) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		threadID, err := t.ThreadIDFor(ctx, id)
		if err != nil || threadID == 0 {
			return err
		}
		_, err = t.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(
			"UPDATE %[1]s SET %[2]s = (%[2]s & ~?) | ? WHERE _id = ?", t.d.Table, t.d.TypeColumn),
			int64(tr.Off), int64(tr.On), id)
		if err != nil {
			return fmt.Errorf("mark %s %s: %w", t.d.Transport, tr.Name, err)
		}
		if _, err := t.db.threads.Update(ctx, threadID, false); err != nil {
			return err
		}
		t.db.notifyMessage(ctx, t.id(id), threadID)
		return nil
	})
}

// MarkRemoteDeleted soft-deletes a message: the row stays and keeps counting
// toward the thread, but its body and attachments are dropped.
func (t *MessageTable) MarkRemoteDeleted(ctx context.Context, id int64) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		threadID, err := t.ThreadIDFor(ctx, id)
		if err != nil || threadID == 0 {
			return err
		}
		q := t.db.conn(ctx)
		if _, err := q.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET remote_deleted = 1, body = NULL, mismatched_identities = NULL WHERE _id = ?", t.d.Table), id); err != nil {
			return fmt.Errorf("mark remote deleted: %w", err)
		}
		if t.d.HasAttachments {
			if _, err := q.ExecContext(ctx, "DELETE FROM attachment WHERE message_id = ?", id); err != nil {
				return fmt.Errorf("delete attachments: %w", err)
			}
		}
		if _, err := t.db.threads.Update(ctx, threadID, false); err != nil {
			return err
		}
		t.db.notifyMessage(ctx, t.id(id), threadID)
		return nil
	})
}

// SetMismatchedIdentities replaces the embedded identity document.
func (t *MessageTable) SetMismatchedIdentities(ctx context.Context, id int64, m []IdentityMismatch) error {
	doc, err := encodeMismatches(m)
	if err != nil {
		return err
	}
	return t.db.InTx(ctx, func(ctx context.Context) error {
		threadID, err := t.ThreadIDFor(ctx, id)
		if err != nil || threadID == 0 {
			return err
		}
		if _, err := t.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET mismatched_identities = ? WHERE _id = ?", t.d.Table), doc, id); err != nil {
			return fmt.Errorf("set mismatched identities: %w", err)
		}
		t.db.notifyMessage(ctx, t.id(id), threadID)
		return nil
	})
}

// Delete removes a message and recomputes its thread. It reports whether the
// thread was deleted because the message was its last.
func (t *MessageTable) Delete(ctx context.Context, id int64) (bool, error) {
	threadDeleted := false
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		threadID, err := t.ThreadIDFor(ctx, id)
		if err != nil || threadID == 0 {
			return err
		}
		q := t.db.conn(ctx)
		if _, err := q.ExecContext(ctx, "DELETE FROM receipt WHERE transport = ? AND message_id = ?", string(t.d.Transport), id); err != nil {
			return fmt.Errorf("delete receipts: %w", err)
		}
		if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE _id = ?", t.d.Table), id); err != nil {
			return fmt.Errorf("delete %s message: %w", t.d.Transport, err)
		}
		t.db.notifyMessage(ctx, t.id(id), threadID)
		threadDeleted, err = t.db.threads.Update(ctx, threadID, false)
		return err
	})
	return threadDeleted, err
}

// ExpiringBefore returns messages whose disappearing timer has run out.
func (t *MessageTable) ExpiringBefore(ctx context.Context, now int64) ([]Expiration, error) {
	return t.expiring(ctx, " AND expire_started + expires_in <= ?", now)
}

// Expiring returns every message with a running disappearing timer.
func (t *MessageTable) Expiring(ctx context.Context) ([]Expiration, error) {
	return t.expiring(ctx, "")
}

func (t *MessageTable) expiring(ctx context.Context, extra string, args ...any) ([]Expiration, error) {
	rows, err := t.db.conn(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT _id, expire_started, expires_in FROM %s
		WHERE expires_in > 0 AND expire_started > 0%s`, t.d.Table, extra), args...)
	if err != nil {
		return nil, fmt.Errorf("query expiring: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Expiration
	for rows.Next() {
		e := Expiration{Message: MessageID{Transport: t.d.Transport}}
		if err := rows.Scan(&e.Message.ID, &e.Start, &e.Duration); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
