package store

import (
	"context"
	"fmt"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

type receiptCandidate struct {
	id              int64
	threadID        int64
	typ             msgtype.Type
	recipientID     int64
	threadRecipient int64
	expiresIn       int64
	expireStarted   int64
}

func (t *MessageTable) candidates(ctx context.Context, dateSent int64) ([]receiptCandidate, error) {
	rows, err := t.db.conn(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT m._id, m.thread_id, m.%s, m.recipient_id, th.recipient_id, m.expires_in, m.expire_started
		FROM %s AS m JOIN thread AS th ON th._id = m.thread_id
		WHERE m.%s = ?`, t.d.TypeColumn, t.d.Table, t.d.DateSentColumn), dateSent)
	if err != nil {
		return nil, fmt.Errorf("query receipt candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []receiptCandidate
	for rows.Next() {
		var c receiptCandidate
		var typ int64
		if err := rows.Scan(&c.id, &c.threadID, &typ, &c.recipientID, &c.threadRecipient, &c.expiresIn, &c.expireStarted); err != nil {
			return nil, err
		}
		c.typ = msgtype.Type(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

// IncrementReceiptCount applies one acknowledgement from sync.Author for the
// message sent at sync.Timestamp. It matches outgoing rows addressed to the
// author or to a group, plus the author's own echo when the author is self.
// Each (message, author, kind) counts once, so repeats are harmless. The
// matched messages are returned; an empty result means nothing has arrived
// yet to apply the acknowledgement to.
func (t *MessageTable) IncrementReceiptCount(ctx context.Context, sync SyncMessageID, receiptTimestamp int64, kind ReceiptKind) ([]MessageRef, error) {
	if kind == ReceiptViewed && !t.d.SupportsViewed {
		return nil, nil
	}

	var refs []MessageRef
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		cands, err := t.candidates(ctx, sync.Timestamp)
		if err != nil {
			return err
		}
		self := t.db.directory.Self()
		touched := make(map[int64]bool)

		for _, c := range cands {
			match := false
			switch {
			case c.typ.IsOutgoing() && c.recipientID == sync.Author:
				match = true
			case c.typ.IsOutgoing():
				if match, err = t.db.groups.IsGroupRecipient(ctx, c.threadRecipient); err != nil {
					return err
				}
			case self != 0 && sync.Author == self && c.recipientID == self:
				match = true
			}
			if !match {
				continue
			}

			counted, err := t.recordReceipt(ctx, c.id, sync.Author, kind, receiptTimestamp)
			if err != nil {
				return err
			}
			if counted {
				touched[c.threadID] = true
				t.db.notifyMessage(ctx, t.id(c.id), c.threadID)
			}
			refs = append(refs, MessageRef{Message: t.id(c.id), ThreadID: c.threadID})
		}

		for threadID := range touched {
			if _, err := t.db.threads.Update(ctx, threadID, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// recordReceipt inserts the per-author ledger row and bumps the counter the
// first time an author acknowledges a message with this kind.
func (t *MessageTable) recordReceipt(ctx context.Context, id, author int64, kind ReceiptKind, ts int64) (bool, error) {
	q := t.db.conn(ctx)
	r, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipt (transport, message_id, author_id, kind, timestamp)
		VALUES (?, ?, ?, ?, ?)`, string(t.d.Transport), id, author, int(kind), ts)
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert receipt rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %[1]s SET %[2]s = %[2]s + 1, receipt_timestamp = MAX(receipt_timestamp, ?) WHERE _id = ?",
		t.d.Table, kind.column()), ts, id); err != nil {
		return false, fmt.Errorf("increment %s receipt: %w", kind, err)
	}
	return true, nil
}

// SetTimestampRead marks the messages identified by sync as read. For
// disappearing messages the expiration start becomes the smaller of
// proposedExpireStart and any start already recorded. latest is updated with
// the newest read timestamp seen per thread.
func (t *MessageTable) SetTimestampRead(ctx context.Context, sync SyncMessageID, proposedExpireStart int64, latest map[int64]int64) (ReadResult, error) {
	var res ReadResult
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		cands, err := t.candidates(ctx, sync.Timestamp)
		if err != nil {
			return err
		}
		self := t.db.directory.Self()

		for _, c := range cands {
			fromSelf := self != 0 && sync.Author == self && c.typ.IsOutgoing()
			if c.recipientID != sync.Author && !fromSelf {
				continue
			}

			start := c.expireStarted
			if c.expiresIn > 0 {
				start = proposedExpireStart
				if c.expireStarted > 0 && c.expireStarted < start {
					start = c.expireStarted
				}
			}
			if _, err := t.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(
				"UPDATE %s SET read = 1, expire_started = ? WHERE _id = ?", t.d.Table), start, c.id); err != nil {
				return fmt.Errorf("set read: %w", err)
			}

			ref := MessageRef{Message: t.id(c.id), ThreadID: c.threadID}
			res.Touched = append(res.Touched, ref)
			if c.expiresIn > 0 {
				res.Expiring = append(res.Expiring, Expiration{Message: ref.Message, Start: start, Duration: c.expiresIn})
			}
			if latest != nil && latest[c.threadID] < sync.Timestamp {
				latest[c.threadID] = sync.Timestamp
			}
			t.db.notifyMessage(ctx, ref.Message, c.threadID)
		}

		seen := make(map[int64]bool)
		for _, ref := range res.Touched {
			if seen[ref.ThreadID] {
				continue
			}
			seen[ref.ThreadID] = true
			if err := t.db.threads.UpdateReadState(ctx, ref.ThreadID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReadResult{}, err
	}
	return res, nil
}

// MessageReceipts lists who acknowledged a message, per kind.
func (t *MessageTable) MessageReceipts(ctx context.Context, id int64) (map[ReceiptKind][]int64, error) {
	rows, err := t.db.conn(ctx).QueryContext(ctx, `
		SELECT kind, author_id FROM receipt WHERE transport = ? AND message_id = ? ORDER BY timestamp`,
		string(t.d.Transport), id)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[ReceiptKind][]int64)
	for rows.Next() {
		var kind int
		var author int64
		if err := rows.Scan(&kind, &author); err != nil {
			return nil, err
		}
		out[ReceiptKind(kind)] = append(out[ReceiptKind(kind)], author)
	}
	return out, rows.Err()
}
