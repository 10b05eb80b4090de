// Package expiring deletes disappearing messages once their timers run out.
package expiring

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/store"
)

// Scheduler accepts a disappearing-message timer. start and duration are in
// milliseconds; the message is due at start+duration.
type Scheduler interface {
	Schedule(id store.MessageID, start, duration int64)
}

// Manager keeps pending timers in a min-heap and sweeps due messages on a
// ticker. Deletion goes through the store so thread summaries stay current.
type Manager struct {
	db       *store.DB
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	queue  queue
	queued map[store.MessageID]int64

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(db *store.DB, interval time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	m := &Manager{
		db:       db,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		queued:   make(map[store.MessageID]int64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Schedule queues a timer. Scheduling a message twice keeps the earlier
// deadline.
func (m *Manager) Schedule(id store.MessageID, start, duration int64) {
	deadline := start + duration
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.queued[id]; ok && cur <= deadline {
		return
	}
	m.queued[id] = deadline
	heap.Push(&m.queue, entry{id: id, deadline: deadline})
}

// Pending returns the number of scheduled messages.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// Load queues every running timer found in the store.
func (m *Manager) Load(ctx context.Context) error {
	for _, t := range m.db.Tables() {
		running, err := t.Expiring(ctx)
		if err != nil {
			return err
		}
		for _, e := range running {
			m.Schedule(e.Message, e.Start, e.Duration)
		}
	}
	return nil
}

// Start loads running timers and begins sweeping.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		return err
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	m.logger.Info("expiring manager started", zap.Int("pending", m.Pending()), zap.Duration("interval", m.interval))
	return nil
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("expiring sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// due pops every entry whose deadline has passed.
func (m *Manager) due(now int64) []store.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.MessageID
	for m.queue.Len() > 0 && m.queue[0].deadline <= now {
		e := heap.Pop(&m.queue).(entry)
		if m.queued[e.id] != e.deadline {
			continue
		}
		delete(m.queued, e.id)
		out = append(out, e.id)
	}
	return out
}

// Sweep deletes every due message and returns how many were removed. A
// failed deletion is requeued and reported after the rest are attempted.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UnixMilli()
	deleted := 0
	var errs []error
	for _, id := range m.due(now) {
		if _, err := m.db.Messages(id.Transport).Delete(ctx, id.ID); err != nil {
			errs = append(errs, err)
			m.Schedule(id, now, 0)
			continue
		}
		deleted++
		m.logger.Debug("expired message deleted", zap.Stringer("message", id))
	}
	return deleted, errors.Join(errs...)
}
