package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/bus"
)

// Notifier receives change events once the writing transaction has committed.
type Notifier interface {
	Publish(evt bus.Event)
}

// DB wraps the SQLite handle of the local message store. It owns the two
// message tables, the thread summaries and the group records.
type DB struct {
	*sql.DB

	logger    *zap.Logger
	notifier  Notifier
	directory RecipientDirectory

	text    *MessageTable
	media   *MessageTable
	threads *ThreadTable
	groups  *GroupTable

	// inner is the union of both message projections joined to the
	// attachment aggregate. Built once; every conversation read wraps it.
	inner string

	schema *MigrateResult

	hooksMu     sync.RWMutex
	insertHooks []InsertHook
}

type options struct {
	busyTimeoutMS int
	logger        *zap.Logger
	notifier      Notifier
	directory     RecipientDirectory
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for corrupt-row and consistency reports.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotifier sets where thread and message change events are delivered.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithDirectory sets the recipient directory consulted for self and
// persistent-thread checks.
func WithDirectory(d RecipientDirectory) Option {
	return func(o *options) { o.directory = d }
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas
// and applies pending schema versions. Transactions take the write lock up
// front so concurrent writers queue on the busy timeout instead of failing on
// lock upgrade.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{busyTimeoutMS: 5000}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.directory == nil {
		o.directory = StaticDirectory{}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", path, o.busyTimeoutMS)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{
		DB:        sqlDB,
		logger:    o.logger,
		notifier:  o.notifier,
		directory: o.directory,
	}
	db.text = newMessageTable(db, TextDescriptor)
	db.media = newMessageTable(db, MediaDescriptor)
	db.threads = &ThreadTable{db: db}
	db.groups = &GroupTable{db: db}
	db.inner = unionInner(TextDescriptor, MediaDescriptor)

	if _, err := db.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Text returns the text-kind message table.
func (db *DB) Text() *MessageTable { return db.text }

// Media returns the media-kind message table.
func (db *DB) Media() *MessageTable { return db.media }

// Messages returns the table holding rows of the given transport.
func (db *DB) Messages(t Transport) *MessageTable {
	if t == TransportMedia {
		return db.media
	}
	return db.text
}

// Tables returns both message tables, text first.
func (db *DB) Tables() []*MessageTable {
	return []*MessageTable{db.text, db.media}
}

func (db *DB) Threads() *ThreadTable { return db.threads }

func (db *DB) Groups() *GroupTable { return db.groups }

func (db *DB) Directory() RecipientDirectory { return db.directory }

func (db *DB) Logger() *zap.Logger { return db.logger }

// InsertHook runs inside the inserting transaction after the row exists and
// before the owning thread summary is recomputed.
type InsertHook func(ctx context.Context, msg *Message) error

// OnInsert registers a hook run for every newly inserted message.
func (db *DB) OnInsert(h InsertHook) {
	db.hooksMu.Lock()
	db.insertHooks = append(db.insertHooks, h)
	db.hooksMu.Unlock()
}

func (db *DB) runInsertHooks(ctx context.Context, msg *Message) error {
	db.hooksMu.RLock()
	hooks := append([]InsertHook(nil), db.insertHooks...)
	db.hooksMu.RUnlock()
	for _, h := range hooks {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
