// Package receipts applies cross-device acknowledgements to the message
// store, holding back the ones whose message has not arrived yet.
package receipts

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/expiring"
	"github.com/matheus3301/msgdb/internal/store"
)

// Ack is a delivery, read or viewed receipt from Author for the message sent
// at Timestamp. At is when the receipt was produced.
type Ack struct {
	Author    int64
	Timestamp int64
	Kind      store.ReceiptKind
	At        int64
}

// ReadSync reports that a linked device read the message Author sent at
// Timestamp.
type ReadSync struct {
	Author    int64
	Timestamp int64
}

// Reconciler applies acknowledgement batches. Batches run in one store
// transaction, so each affected thread is announced once per batch.
type Reconciler struct {
	db        *store.DB
	cache     *EarlyCache
	scheduler expiring.Scheduler
	logger    *zap.Logger
}

// NewReconciler registers an insert hook on db that replays cached
// acknowledgements for each newly inserted message.
func NewReconciler(db *store.DB, cache *EarlyCache, scheduler expiring.Scheduler, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{db: db, cache: cache, scheduler: scheduler, logger: logger}
	db.OnInsert(r.replay)
	return r
}

// Cache returns the early receipt cache.
func (r *Reconciler) Cache() *EarlyCache { return r.cache }

// ApplyReceipts applies acks and returns the ones that matched no message.
// Those are cached before the batch commits, so an insert queued behind the
// batch always sees them.
func (r *Reconciler) ApplyReceipts(ctx context.Context, acks []Ack) ([]Ack, error) {
	var early []Ack
	touched := 0
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		early = early[:0]
		touched = 0
		for _, a := range acks {
			sync := store.SyncMessageID{Author: a.Author, Timestamp: a.Timestamp}
			matched := false
			for _, t := range r.db.Tables() {
				refs, err := t.IncrementReceiptCount(ctx, sync, a.At, a.Kind)
				if err != nil {
					return err
				}
				if len(refs) > 0 {
					matched = true
					touched += len(refs)
				}
			}
			if !matched {
				early = append(early, a)
			}
		}

		for _, a := range early {
			r.hold(ctx, a.Timestamp, Entry{Author: a.Author, Kind: a.Kind, At: a.At})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("receipts applied",
		zap.Int("batch", len(acks)), zap.Int("touched", touched), zap.Int("early", len(early)))
	return early, nil
}

// ApplyReadSyncs marks the referenced messages read. Disappearing messages
// start their timer no later than proposedExpireStart and are handed to the
// scheduler after commit. Reads that matched nothing are returned and cached.
func (r *Reconciler) ApplyReadSyncs(ctx context.Context, reads []ReadSync, proposedExpireStart int64) ([]ReadSync, error) {
	var early []ReadSync
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		early = early[:0]
		latest := make(map[int64]int64)
		var expirations []store.Expiration

		for _, rd := range reads {
			sync := store.SyncMessageID{Author: rd.Author, Timestamp: rd.Timestamp}
			matched := false
			for _, t := range r.db.Tables() {
				res, err := t.SetTimestampRead(ctx, sync, proposedExpireStart, latest)
				if err != nil {
					return err
				}
				if len(res.Touched) > 0 {
					matched = true
				}
				expirations = append(expirations, res.Expiring...)
			}
			if !matched {
				early = append(early, rd)
			}
		}
		if err := r.readSince(ctx, latest); err != nil {
			return err
		}

		for _, rd := range early {
			r.hold(ctx, rd.Timestamp, Entry{Author: rd.Author, Kind: store.ReceiptRead, Sync: true, At: proposedExpireStart})
		}
		r.db.AfterCommit(ctx, func() { r.schedule(expirations) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return early, nil
}

// replay applies cached entries for a message that has just been inserted.
// It runs inside the insert transaction; matched entries leave the cache
// only after that transaction commits.
func (r *Reconciler) replay(ctx context.Context, msg *store.Message) error {
	entries := r.cache.Peek(msg.DateSent)
	if len(entries) == 0 {
		return nil
	}

	table := r.db.Messages(msg.ID.Transport)
	latest := make(map[int64]int64)
	var matched []Entry
	var expirations []store.Expiration

	for _, e := range entries {
		sync := store.SyncMessageID{Author: e.Author, Timestamp: msg.DateSent}
		if e.Sync {
			res, err := table.SetTimestampRead(ctx, sync, e.At, latest)
			if err != nil {
				return err
			}
			if len(res.Touched) > 0 {
				matched = append(matched, e)
				expirations = append(expirations, res.Expiring...)
			}
			continue
		}
		refs, err := table.IncrementReceiptCount(ctx, sync, e.At, e.Kind)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := r.readSince(ctx, latest); err != nil {
		return err
	}

	ts := msg.DateSent
	r.db.AfterCommit(ctx, func() {
		r.cache.Remove(ts, matched...)
		r.schedule(expirations)
	})
	r.logger.Debug("early receipts replayed",
		zap.Stringer("message", msg.ID), zap.Int("entries", len(matched)))
	return nil
}

// hold caches an unmatched entry inside the open transaction. A rollback
// takes back entries the batch added.
func (r *Reconciler) hold(ctx context.Context, timestamp int64, e Entry) {
	if r.cache.Add(timestamp, e) {
		r.db.OnRollback(ctx, func() { r.cache.Remove(timestamp, e) })
	}
}

func (r *Reconciler) readSince(ctx context.Context, latest map[int64]int64) error {
	for threadID, ts := range latest {
		if err := r.db.Threads().SetReadSince(ctx, threadID, ts); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) schedule(expirations []store.Expiration) {
	if r.scheduler == nil {
		return
	}
	for _, e := range expirations {
		r.scheduler.Schedule(e.Message, e.Start, e.Duration)
	}
}
