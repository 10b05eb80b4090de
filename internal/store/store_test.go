package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/msgdb/internal/bus"
)

const selfID = int64(1)

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithDirectory(StaticDirectory{SelfID: selfID})}, opts...)
	db, err := Open(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) Publish(evt bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestOpenMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, &MigrateResult{From: 0, Version: 2, Changed: true}, db.Schema())

	again, err := db.Migrate()
	require.NoError(t, err)
	assert.False(t, again.Changed, "a second run finds nothing to apply")
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, &MigrateResult{From: 2, Version: 2, Changed: false}, db.Schema())
}

func TestOpenRefusesDirtySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, IsConsistencyError(err))
}

func TestInTxJoinsAmbientTransaction(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(outer context.Context) error {
		assert.True(t, db.InTransaction(outer))
		return db.InTx(outer, func(inner context.Context) error {
			assert.Same(t, db.txFrom(outer), db.txFrom(inner))
			_, err := db.Threads().GetOrCreate(inner, 10)
			return err
		})
	})
	require.NoError(t, err)
	assert.False(t, db.InTransaction(ctx))

	th, err := db.Threads().GetByRecipient(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, th)
}

func TestRollbackDiscardsWritesAndHooks(t *testing.T) {
	rec := &recorder{}
	db := testDB(t, WithNotifier(rec))
	ctx := context.Background()

	fired := 0
	boom := errors.New("boom")
	err := db.InTx(ctx, func(ctx context.Context) error {
		db.AfterCommit(ctx, func() { fired++ })
		if _, _, err := db.Text().InsertIncoming(ctx, IncomingMessage{From: 10, Body: "hi", SentAt: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, fired)
	assert.Zero(t, rec.count(EventThreadChanged))
	assert.Zero(t, rec.count(EventMessageChanged))

	th, err := db.Threads().GetByRecipient(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, th, "thread created inside rolled back tx must not exist")
}

func TestAfterCommitFiresOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	fired := 0
	err := db.InTx(ctx, func(ctx context.Context) error {
		db.AfterCommit(ctx, func() { fired++ })
		return db.InTx(ctx, func(ctx context.Context) error {
			db.AfterCommit(ctx, func() { fired++ })
			assert.Zero(t, fired, "hooks must not run before commit")
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	db.AfterCommit(ctx, func() { fired++ })
	assert.Equal(t, 3, fired, "outside a transaction the hook runs immediately")
}

func TestOnRollbackRunsOnlyOnRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var undone []int
	boom := errors.New("boom")
	err := db.InTx(ctx, func(ctx context.Context) error {
		db.OnRollback(ctx, func() { undone = append(undone, 1) })
		db.OnRollback(ctx, func() { undone = append(undone, 2) })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{2, 1}, undone)

	undone = nil
	require.NoError(t, db.InTx(ctx, func(ctx context.Context) error {
		db.OnRollback(ctx, func() { undone = append(undone, 1) })
		return nil
	}))
	assert.Empty(t, undone)
}

func TestNotificationsAreDedupedPerTransaction(t *testing.T) {
	rec := &recorder{}
	db := testDB(t, WithNotifier(rec))
	ctx := context.Background()

	err := db.InTx(ctx, func(ctx context.Context) error {
		for i := int64(1); i <= 3; i++ {
			if _, _, err := db.Text().InsertIncoming(ctx, IncomingMessage{From: 10, Body: "m", SentAt: i, ReceivedAt: i}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(EventThreadChanged))
	assert.Equal(t, 3, rec.count(EventMessageChanged))
}
