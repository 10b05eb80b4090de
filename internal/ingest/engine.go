// Package ingest feeds decrypted inbound events from the bus into the store.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/bus"
	"github.com/matheus3301/msgdb/internal/groups"
	"github.com/matheus3301/msgdb/internal/msgtype"
	"github.com/matheus3301/msgdb/internal/receipts"
	"github.com/matheus3301/msgdb/internal/store"
)

// Engine consumes "inbound." events one at a time, in publish order.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *receipts.Reconciler
	migrator   *groups.Migrator
	logger     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(db *store.DB, b *bus.Bus, r *receipts.Reconciler, m *groups.Migrator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, bus: b, reconciler: r, migrator: m, logger: logger}
}

// Start subscribes to inbound events.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("inbound.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the event in progress to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case Message:
		_, _, err = e.IngestMessage(ctx, p)
	case Sent:
		_, _, err = e.IngestSent(ctx, p)
	case History:
		err = e.IngestHistory(ctx, p)
	case Receipts:
		_, err = e.reconciler.ApplyReceipts(ctx, p.Acks)
	case ReadSync:
		_, err = e.reconciler.ApplyReadSyncs(ctx, p.Reads, p.ReadAt)
	case GroupState:
		_, err = e.migrator.Apply(ctx, p.MasterKey, p.RecipientID, p.State, p.Change)
	case Status:
		err = e.ApplyStatus(ctx, p)
	case RemoteDelete:
		var found bool
		found, err = e.ApplyRemoteDelete(ctx, p)
		if err == nil && !found {
			e.logger.Debug("remote delete target not found",
				zap.Int64("author", p.Target.Author), zap.Int64("timestamp", p.Target.Timestamp))
		}
	default:
		e.logger.Warn("unexpected inbound payload", zap.String("kind", evt.Kind), zap.String("type", fmt.Sprintf("%T", evt.Payload)))
		return
	}
	if err == nil {
		return
	}
	if store.IsConsistencyError(err) {
		e.logger.Error("store consistency violation", zap.String("kind", evt.Kind), zap.String("event", evt.ID), zap.Error(err))
		return
	}
	e.logger.Error("failed to ingest event", zap.String("kind", evt.Kind), zap.String("event", evt.ID), zap.Error(err))
}

// IngestMessage stores a received message, registering its legacy group on
// first contact. Redelivery is a no-op reported as false.
func (e *Engine) IngestMessage(ctx context.Context, msg Message) (store.InsertResult, bool, error) {
	var res store.InsertResult
	var inserted bool
	err := e.db.InTx(ctx, func(ctx context.Context) error {
		if g := msg.Group; g != nil {
			if err := e.migrator.EnsureV1(ctx, g.ID, msg.Incoming.Group, g.Title, g.Members); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}
		}
		var err error
		res, inserted, err = e.table(msg.Media).InsertIncoming(ctx, msg.Incoming)
		return err
	})
	return res, inserted, err
}

// IngestSent stores an outgoing message. Receipts that raced ahead of it are
// applied by the reconciler's insert hook.
func (e *Engine) IngestSent(ctx context.Context, s Sent) (store.InsertResult, bool, error) {
	return e.table(s.Media).InsertOutgoing(ctx, s.Outgoing)
}

// IngestHistory stores a batch atomically.
func (e *Engine) IngestHistory(ctx context.Context, h History) error {
	inserted := 0
	err := e.db.InTx(ctx, func(ctx context.Context) error {
		inserted = 0
		for _, m := range h.Received {
			_, ok, err := e.IngestMessage(ctx, m)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		for _, s := range h.Sent {
			_, ok, err := e.IngestSent(ctx, s)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest history: %w", err)
	}
	e.logger.Info("history batch ingested",
		zap.Int("messages", len(h.Received)+len(h.Sent)), zap.Int("inserted", inserted))
	return nil
}

// ApplyStatus records a send or decrypt outcome. The mismatch document and
// the type transition are written in one transaction.
func (e *Engine) ApplyStatus(ctx context.Context, s Status) error {
	var tr msgtype.Transition
	if s.Transition != "" {
		var ok bool
		if tr, ok = msgtype.Transitions()[s.Transition]; !ok {
			return fmt.Errorf("unknown transition %q", s.Transition)
		}
	}
	table := e.db.Messages(s.Message.Transport)
	return e.db.InTx(ctx, func(ctx context.Context) error {
		if s.Mismatches != nil {
			if err := table.SetMismatchedIdentities(ctx, s.Message.ID, s.Mismatches); err != nil {
				return err
			}
		}
		if s.Transition == "" {
			return nil
		}
		return table.MarkAs(ctx, s.Message.ID, tr)
	})
}

// ApplyRemoteDelete soft-deletes the message the author refers to. It
// reports false when no such message is stored.
func (e *Engine) ApplyRemoteDelete(ctx context.Context, d RemoteDelete) (bool, error) {
	found := false
	err := e.db.InTx(ctx, func(ctx context.Context) error {
		m, err := e.db.MessageFor(ctx, d.Target)
		if err != nil || m == nil {
			return err
		}
		found = true
		return e.db.Messages(m.ID.Transport).MarkRemoteDeleted(ctx, m.ID.ID)
	})
	return found, err
}

func (e *Engine) table(media bool) *store.MessageTable {
	if media {
		return e.db.Media()
	}
	return e.db.Text()
}
