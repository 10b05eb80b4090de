package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

// conversationOrder is newest first with a stable tie-break on row identity.
const conversationOrder = "date_received DESC, transport DESC, _id DESC"

// unionQuery wraps the combined projection so selection, ordering and
// limits apply to the union as a whole rather than per branch.
type unionQuery struct {
	columns string
	where   []string
	args    []any
	orderBy string
	limit   int
	offset  int
}

func (q *unionQuery) filter(cond string, args ...any) *unionQuery {
	q.where = append(q.where, cond)
	q.args = append(q.args, args...)
	return q
}

func (q *unionQuery) build(inner string) (string, []any) {
	cols := q.columns
	if cols == "" {
		cols = "*"
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM (")
	b.WriteString(inner)
	b.WriteString(") AS conversation")
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if q.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.orderBy)
	}
	args := append([]any(nil), q.args...)
	if q.limit != 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.limit, q.offset)
	}
	return b.String(), args
}

func baseList(bases []msgtype.Base) string {
	parts := make([]string, len(bases))
	for i, base := range bases {
		parts[i] = strconv.Itoa(int(base))
	}
	return strings.Join(parts, ", ")
}

var (
	snippetFilter = fmt.Sprintf("remote_deleted = 0 AND (type & %d) NOT IN (%s) AND (type & %d) != %d",
		msgtype.BaseMask, baseList(msgtype.SnippetExcludedBases()), msgtype.GroupV2LeaveBits, msgtype.GroupV2LeaveBits)
	incomingFilter = fmt.Sprintf("(type & %d) NOT IN (%s)", msgtype.BaseMask, baseList(msgtype.OutgoingBases()))
)

// ConversationReader streams conversation rows. Rows are decoded as they are
// pulled; abandoning the reader only requires Close.
type ConversationReader struct {
	db   *DB
	rows *sql.Rows
	cur  *Message
	err  error
}

// Next advances to the next row.
func (r *ConversationReader) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	r.cur, r.err = r.db.scanMessage(r.rows)
	return r.err == nil
}

// Message returns the current row.
func (r *ConversationReader) Message() *Message { return r.cur }

func (r *ConversationReader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *ConversationReader) Close() error { return r.rows.Close() }

// Conversation streams a thread's messages from both tables, newest first.
// A limit of zero or less returns every row from offset on.
func (db *DB) Conversation(ctx context.Context, threadID int64, offset, limit int) (*ConversationReader, error) {
	if limit <= 0 {
		limit = -1
	}
	q := (&unionQuery{orderBy: conversationOrder, limit: limit, offset: offset}).
		filter("thread_id = ?", threadID)
	query, args := q.build(db.inner)
	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &ConversationReader{db: db, rows: rows}, nil
}

// ConversationMessages reads a page of a conversation into memory.
func (db *DB) ConversationMessages(ctx context.Context, threadID int64, offset, limit int) ([]*Message, error) {
	r, err := db.Conversation(ctx, threadID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var out []*Message
	for r.Next() {
		out = append(out, r.Message())
	}
	return out, r.Err()
}

// ConversationSnippet returns the newest row of a thread that can stand in
// for it in a thread list, skipping soft-deleted rows and silent system
// events. Returns nil when there is none.
func (db *DB) ConversationSnippet(ctx context.Context, threadID int64) (*Message, error) {
	q := (&unionQuery{orderBy: conversationOrder, limit: 1}).
		filter("thread_id = ?", threadID).
		filter(snippetFilter)
	query, args := q.build(db.inner)
	m, err := db.scanMessage(db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation snippet: %w", err)
	}
	return m, nil
}

// PositionOf returns the 0-based index of the message received at
// receivedAt within the newest-first conversation, or -1 if no message of
// the thread was received at that time.
func (db *DB) PositionOf(ctx context.Context, threadID, receivedAt int64) (int, error) {
	q := (&unionQuery{
		columns: "COALESCE(SUM(date_received > ?), 0), COALESCE(SUM(date_received = ?), 0)",
		args:    []any{receivedAt, receivedAt},
	}).filter("thread_id = ?", threadID)
	query, args := q.build(db.inner)

	var newer, exact int
	if err := db.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&newer, &exact); err != nil {
		return 0, fmt.Errorf("position of: %w", err)
	}
	if exact == 0 {
		return -1, nil
	}
	return newer, nil
}

// ConversationCount counts every row of a thread across both tables.
func (db *DB) ConversationCount(ctx context.Context, threadID int64) (int, error) {
	return db.count(ctx, (&unionQuery{}).filter("thread_id = ?", threadID))
}

// UnreadCount counts unread incoming rows of a thread.
func (db *DB) UnreadCount(ctx context.Context, threadID int64) (int, error) {
	return db.count(ctx, (&unionQuery{}).
		filter("thread_id = ?", threadID).
		filter("read = 0").
		filter(incomingFilter))
}

func (db *DB) count(ctx context.Context, q *unionQuery) (int, error) {
	q.columns = "COUNT(*)"
	query, args := q.build(db.inner)
	var n int
	if err := db.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return n, nil
}

// MessageFor finds the message a remote party refers to by its sent
// timestamp and author. Self-authored lookups match outgoing rows.
func (db *DB) MessageFor(ctx context.Context, sync SyncMessageID) (*Message, error) {
	q := (&unionQuery{orderBy: conversationOrder}).filter("date_sent = ?", sync.Timestamp)
	query, args := q.build(db.inner)
	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("message for: %w", err)
	}
	defer func() { _ = rows.Close() }()

	self := db.directory.Self()
	for rows.Next() {
		m, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if self != 0 && sync.Author == self && m.Type.IsOutgoing() {
			return m, nil
		}
		if !m.Type.IsOutgoing() && m.RecipientID == sync.Author {
			return m, nil
		}
	}
	return nil, rows.Err()
}
