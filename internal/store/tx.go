package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/msgdb/internal/bus"
)

// Change event kinds published after commit.
const (
	EventThreadChanged  = "thread.changed"
	EventThreadDeleted  = "thread.deleted"
	EventMessageChanged = "message.changed"
)

// ThreadChanged is the payload of thread.changed and thread.deleted.
type ThreadChanged struct {
	ThreadID int64
}

// MessageChanged is the payload of message.changed.
type MessageChanged struct {
	Message  MessageID
	ThreadID int64
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{ db *DB }

// txState is the ambient transaction carried by a context.
type txState struct {
	tx       *sql.Tx
	hooks    []func()
	undo     []func()
	threads  map[int64]bool // thread id -> deleted
	messages map[MessageID]int64
	order    []any
}

func (db *DB) txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{db}).(*txState)
	return st
}

// conn returns the ambient transaction if ctx carries one, else the pool.
func (db *DB) conn(ctx context.Context) querier {
	if st := db.txFrom(ctx); st != nil {
		return st.tx
	}
	return db.DB
}

// InTx runs fn inside a transaction. If ctx already carries a transaction
// for this DB, fn joins it and commit is left to the outermost caller.
// Post-commit hooks and change notifications run only after the outermost
// commit succeeds; on error or panic everything is rolled back and dropped.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	st := &txState{
		tx:       tx,
		threads:  make(map[int64]bool),
		messages: make(map[MessageID]int64),
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Undo runs while the write lock is still held.
		for i := len(st.undo) - 1; i >= 0; i-- {
			st.undo[i]()
		}
		_ = tx.Rollback()
	}()

	if err := fn(context.WithValue(ctx, txKey{db}, st)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true

	db.flush(st)
	return nil
}

// InTransaction reports whether ctx carries a transaction of this DB.
func (db *DB) InTransaction(ctx context.Context) bool {
	return db.txFrom(ctx) != nil
}

// AfterCommit registers fn to run once after the ambient transaction commits.
// Outside a transaction fn runs immediately.
func (db *DB) AfterCommit(ctx context.Context, fn func()) {
	if st := db.txFrom(ctx); st != nil {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn()
}

// OnRollback registers fn to run if the ambient transaction rolls back,
// before the write lock is released. Hooks run in reverse order. Outside a
// transaction fn is dropped.
func (db *DB) OnRollback(ctx context.Context, fn func()) {
	if st := db.txFrom(ctx); st != nil {
		st.undo = append(st.undo, fn)
	}
}

func (db *DB) notifyThread(ctx context.Context, threadID int64) {
	st := db.txFrom(ctx)
	if st == nil {
		db.publish(EventThreadChanged, ThreadChanged{ThreadID: threadID})
		return
	}
	if _, seen := st.threads[threadID]; !seen {
		st.order = append(st.order, threadID)
		st.threads[threadID] = false
	}
}

func (db *DB) notifyThreadDeleted(ctx context.Context, threadID int64) {
	st := db.txFrom(ctx)
	if st == nil {
		db.publish(EventThreadDeleted, ThreadChanged{ThreadID: threadID})
		return
	}
	if _, seen := st.threads[threadID]; !seen {
		st.order = append(st.order, threadID)
	}
	st.threads[threadID] = true
}

func (db *DB) notifyMessage(ctx context.Context, id MessageID, threadID int64) {
	st := db.txFrom(ctx)
	if st == nil {
		db.publish(EventMessageChanged, MessageChanged{Message: id, ThreadID: threadID})
		return
	}
	if _, seen := st.messages[id]; !seen {
		st.order = append(st.order, id)
	}
	st.messages[id] = threadID
}

// flush delivers deduplicated notifications in first-touched order, then
// runs the registered hooks.
func (db *DB) flush(st *txState) {
	for _, key := range st.order {
		switch k := key.(type) {
		case int64:
			if st.threads[k] {
				db.publish(EventThreadDeleted, ThreadChanged{ThreadID: k})
			} else {
				db.publish(EventThreadChanged, ThreadChanged{ThreadID: k})
			}
		case MessageID:
			db.publish(EventMessageChanged, MessageChanged{Message: k, ThreadID: st.messages[k]})
		}
	}
	for _, fn := range st.hooks {
		fn()
	}
}

func (db *DB) publish(kind string, payload any) {
	if db.notifier == nil {
		return
	}
	db.notifier.Publish(bus.NewEvent(kind, time.Now(), payload))
}
