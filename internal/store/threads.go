package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

// ThreadTable keeps the denormalized per-thread summaries. Summaries are
// always re-derived from the message tables, never adjusted incrementally.
type ThreadTable struct {
	db *DB
}

const threadColumns = `_id, recipient_id, date, message_count, unread_count, snippet, snippet_type, snippet_uri,
	snippet_delivery_receipt_count, snippet_read_receipt_count, archived, pinned, last_seen, expires_in`

func scanThread(s rowScanner) (*Thread, error) {
	var th Thread
	var snippet, uri sql.NullString
	var snippetType int64
	err := s.Scan(&th.ID, &th.RecipientID, &th.Date, &th.MessageCount, &th.UnreadCount,
		&snippet, &snippetType, &uri, &th.SnippetDeliveryReceipts, &th.SnippetReadReceipts,
		&th.Archived, &th.Pinned, &th.LastSeen, &th.ExpiresIn)
	if err != nil {
		return nil, err
	}
	th.Snippet = snippet.String
	th.SnippetURI = uri.String
	th.SnippetType = msgtype.Type(snippetType)
	return &th, nil
}

// Get returns a thread by id, or nil if absent.
func (t *ThreadTable) Get(ctx context.Context, id int64) (*Thread, error) {
	th, err := scanThread(t.db.conn(ctx).QueryRowContext(ctx,
		"SELECT "+threadColumns+" FROM thread WHERE _id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return th, nil
}

// GetByRecipient returns the thread of a recipient, or nil if absent.
func (t *ThreadTable) GetByRecipient(ctx context.Context, recipientID int64) (*Thread, error) {
	th, err := scanThread(t.db.conn(ctx).QueryRowContext(ctx,
		"SELECT "+threadColumns+" FROM thread WHERE recipient_id = ?", recipientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread by recipient: %w", err)
	}
	return th, nil
}

// MustGet is Get for callers that hold a reference the thread must satisfy.
func (t *ThreadTable) MustGet(ctx context.Context, id int64) (*Thread, error) {
	th, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return nil, &ConsistencyError{Op: "thread lookup", Detail: fmt.Sprintf("thread %d", id), Err: ErrNoSuchThread}
	}
	return th, nil
}

// GetOrCreate returns the id of the recipient's thread, creating it if needed.
func (t *ThreadTable) GetOrCreate(ctx context.Context, recipientID int64) (int64, error) {
	var id int64
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		q := t.db.conn(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO thread (recipient_id, date) VALUES (?, ?)
			ON CONFLICT(recipient_id) DO NOTHING`, recipientID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		if err := q.QueryRowContext(ctx, "SELECT _id FROM thread WHERE recipient_id = ?", recipientID).Scan(&id); err != nil {
			return fmt.Errorf("select thread: %w", err)
		}
		return nil
	})
	return id, err
}

// List returns threads, pinned first then most recent.
func (t *ThreadTable) List(ctx context.Context, archived bool, limit, offset int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.conn(ctx).QueryContext(ctx, `
		SELECT `+threadColumns+` FROM thread
		WHERE archived = ?
		ORDER BY pinned DESC, date DESC, _id DESC
		LIMIT ? OFFSET ?`, archived, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *th)
	}
	return out, rows.Err()
}

// Update re-derives a thread's summary from its messages. A thread left
// without messages is deleted unless its recipient is persistent. The return
// reports whether the thread was deleted.
func (t *ThreadTable) Update(ctx context.Context, id int64, unarchive bool) (bool, error) {
	deleted := false
	err := t.db.InTx(ctx, func(ctx context.Context) error {
		th, err := t.Get(ctx, id)
		if err != nil || th == nil {
			return err
		}
		q := t.db.conn(ctx)

		count, err := t.db.ConversationCount(ctx, id)
		if err != nil {
			return err
		}
		if count == 0 {
			if t.db.directory.IsPersistent(th.RecipientID) {
				if _, err := q.ExecContext(ctx, `
					UPDATE thread SET message_count = 0, unread_count = 0, snippet = NULL, snippet_type = 0,
						snippet_uri = NULL, snippet_delivery_receipt_count = 0, snippet_read_receipt_count = 0, expires_in = 0
					WHERE _id = ?`, id); err != nil {
					return fmt.Errorf("clear thread: %w", err)
				}
				t.db.notifyThread(ctx, id)
				return nil
			}
			if _, err := q.ExecContext(ctx, "DELETE FROM thread WHERE _id = ?", id); err != nil {
				return fmt.Errorf("delete thread: %w", err)
			}
			t.db.notifyThreadDeleted(ctx, id)
			deleted = true
			return nil
		}

		unread, err := t.db.UnreadCount(ctx, id)
		if err != nil {
			return err
		}
		snippet, err := t.db.ConversationSnippet(ctx, id)
		if err != nil {
			return err
		}

		if snippet == nil {
			_, err = q.ExecContext(ctx, `
				UPDATE thread SET message_count = ?, unread_count = ?, snippet = NULL, snippet_type = 0, snippet_uri = NULL,
					snippet_delivery_receipt_count = 0, snippet_read_receipt_count = 0,
					archived = CASE WHEN ? THEN 0 ELSE archived END
				WHERE _id = ?`, count, unread, unarchive, id)
		} else {
			var uri any
			if len(snippet.Attachments) > 0 {
				uri = nullableString(snippet.Attachments[0].DataRef)
			}
			_, err = q.ExecContext(ctx, `
				UPDATE thread SET date = ?, message_count = ?, unread_count = ?, snippet = ?, snippet_type = ?, snippet_uri = ?,
					snippet_delivery_receipt_count = ?, snippet_read_receipt_count = ?, expires_in = ?,
					archived = CASE WHEN ? THEN 0 ELSE archived END
				WHERE _id = ?`,
				snippet.DateReceived, count, unread, nullableString(snippet.Body), int64(snippet.Type), uri,
				snippet.DeliveryReceiptCount, snippet.ReadReceiptCount, snippet.ExpiresIn,
				unarchive, id)
		}
		if err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		t.db.notifyThread(ctx, id)
		return nil
	})
	return deleted, err
}

// UpdateReadState recounts unread messages without touching the snippet.
func (t *ThreadTable) UpdateReadState(ctx context.Context, id int64) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		unread, err := t.db.UnreadCount(ctx, id)
		if err != nil {
			return err
		}
		r, err := t.db.conn(ctx).ExecContext(ctx, "UPDATE thread SET unread_count = ? WHERE _id = ?", unread, id)
		if err != nil {
			return fmt.Errorf("update read state: %w", err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			t.db.notifyThread(ctx, id)
		}
		return nil
	})
}

// SetReadSince marks every incoming message of the thread received at or
// before ts as read and advances last_seen.
func (t *ThreadTable) SetReadSince(ctx context.Context, id, ts int64) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		for _, mt := range t.db.Tables() {
			d := mt.Descriptor()
			if _, err := t.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(
				"UPDATE %s SET read = 1 WHERE thread_id = ? AND read = 0 AND %s <= ?", d.Table, d.DateReceivedColumn),
				id, ts); err != nil {
				return fmt.Errorf("set %s read since: %w", d.Transport, err)
			}
		}
		if err := t.SetLastSeen(ctx, id, ts); err != nil {
			return err
		}
		return t.UpdateReadState(ctx, id)
	})
}

// MarkRead marks the whole thread read.
func (t *ThreadTable) MarkRead(ctx context.Context, id int64) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		for _, mt := range t.db.Tables() {
			if _, err := t.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(
				"UPDATE %s SET read = 1 WHERE thread_id = ? AND read = 0", mt.Descriptor().Table), id); err != nil {
				return fmt.Errorf("mark thread read: %w", err)
			}
		}
		if err := t.SetLastSeen(ctx, id, time.Now().UnixMilli()); err != nil {
			return err
		}
		return t.UpdateReadState(ctx, id)
	})
}

// SetLastSeen advances last_seen; it never moves backwards.
func (t *ThreadTable) SetLastSeen(ctx context.Context, id, ts int64) error {
	_, err := t.db.conn(ctx).ExecContext(ctx,
		"UPDATE thread SET last_seen = MAX(last_seen, ?) WHERE _id = ?", ts, id)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	t.db.notifyThread(ctx, id)
	return nil
}

func (t *ThreadTable) SetArchived(ctx context.Context, id int64, archived bool) error {
	return t.setFlag(ctx, id, "archived", archived)
}

func (t *ThreadTable) SetPinned(ctx context.Context, id int64, pinned bool) error {
	return t.setFlag(ctx, id, "pinned", pinned)
}

func (t *ThreadTable) setFlag(ctx context.Context, id int64, column string, v bool) error {
	r, err := t.db.conn(ctx).ExecContext(ctx, "UPDATE thread SET "+column+" = ? WHERE _id = ?", v, id)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrNoSuchThread
	}
	t.db.notifyThread(ctx, id)
	return nil
}

// Delete removes a thread with every message, attachment and receipt in it.
func (t *ThreadTable) Delete(ctx context.Context, id int64) error {
	return t.db.InTx(ctx, func(ctx context.Context) error {
		q := t.db.conn(ctx)
		for _, mt := range t.db.Tables() {
			d := mt.Descriptor()
			if _, err := q.ExecContext(ctx, fmt.Sprintf(
				"DELETE FROM receipt WHERE transport = ? AND message_id IN (SELECT _id FROM %s WHERE thread_id = ?)", d.Table),
				string(d.Transport), id); err != nil {
				return fmt.Errorf("delete thread receipts: %w", err)
			}
			if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", d.Table), id); err != nil {
				return fmt.Errorf("delete thread messages: %w", err)
			}
		}
		r, err := q.ExecContext(ctx, "DELETE FROM thread WHERE _id = ?", id)
		if err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			t.db.notifyThreadDeleted(ctx, id)
		}
		return nil
	})
}
