// Package groups moves legacy groups onto the revisioned group protocol.
package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/groupid"
	"github.com/matheus3301/msgdb/internal/msgtype"
	"github.com/matheus3301/msgdb/internal/store"
)

// MigrationChange is the body of the system message recorded in a migrated
// group's thread.
type MigrationChange struct {
	Dropped []int64 `json:"dropped,omitempty"`
	Invited []int64 `json:"invited,omitempty"`
}

// DecodeMigrationChange decodes the body of a group migration message. A
// corrupt body is logged and read as an empty change.
func DecodeMigrationChange(msg *store.Message, logger *zap.Logger) MigrationChange {
	var c MigrationChange
	if msg.Body == "" {
		return c
	}
	if err := json.Unmarshal([]byte(msg.Body), &c); err != nil {
		if logger != nil {
			logger.Warn("corrupt migration change", zap.Stringer("message", msg.ID), zap.Error(err))
		}
		return MigrationChange{}
	}
	return c
}

type Migrator struct {
	db     *store.DB
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Migrator)

// WithClock replaces time.Now for the migration message timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

func NewMigrator(db *store.DB, logger *zap.Logger, opts ...Option) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Migrator{db: db, logger: logger, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureV1 stores a legacy group on first contact. It does nothing when the
// group, or the group it migrated to, already exists.
func (m *Migrator) EnsureV1(ctx context.Context, id groupid.ID, recipientID int64, title string, members []int64) error {
	v2, _, err := groupid.DeriveV2(id)
	if err != nil {
		return err
	}
	return m.db.InTx(ctx, func(ctx context.Context) error {
		for _, candidate := range []groupid.ID{id, v2} {
			rec, err := m.db.Groups().Get(ctx, candidate)
			if err != nil {
				return err
			}
			if rec != nil {
				return nil
			}
		}
		return m.db.Groups().CreateV1(ctx, id, recipientID, title, members)
	})
}

// Migrate converts v1 to its derived V2 identity using the authoritative
// state. The swap and the migration message commit together. It reports
// false, with the current record, when the group had already migrated.
func (m *Migrator) Migrate(ctx context.Context, v1 groupid.ID, state store.GroupState) (*store.GroupRecord, bool, error) {
	v2, _, err := groupid.DeriveV2(v1)
	if err != nil {
		return nil, false, err
	}

	var rec *store.GroupRecord
	migrated := false
	err = m.db.InTx(ctx, func(ctx context.Context) error {
		legacy, err := m.db.Groups().Get(ctx, v1)
		if err != nil {
			return err
		}
		if legacy == nil {
			done, err := m.db.Groups().Get(ctx, v2)
			if err != nil {
				return err
			}
			if done != nil {
				rec = done
				return nil
			}
		}

		if rec, err = m.db.Groups().MigrateToV2(ctx, v1, state); err != nil {
			return err
		}
		if err := m.recordMigration(ctx, rec); err != nil {
			return err
		}
		migrated = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, migrated, nil
}

// Apply records an authoritative V2 state. A legacy group expecting this
// identity is migrated first; an unknown group is created.
func (m *Migrator) Apply(ctx context.Context, masterKey []byte, recipientID int64, state store.GroupState, change *store.GroupChange) (*store.GroupRecord, error) {
	v2, err := groupid.FromMasterKey(masterKey)
	if err != nil {
		return nil, err
	}

	var rec *store.GroupRecord
	err = m.db.InTx(ctx, func(ctx context.Context) error {
		groups := m.db.Groups()
		existing, err := groups.Get(ctx, v2)
		if err != nil {
			return err
		}
		if existing != nil {
			if state.Revision <= existing.Revision {
				m.logger.Debug("stale group state ignored",
					zap.String("group", string(v2)), zap.Int64("revision", state.Revision))
				rec = existing
				return nil
			}
			if err := groups.Update(ctx, v2, state, change); err != nil {
				return err
			}
			rec, err = groups.Get(ctx, v2)
			return err
		}

		legacy, err := groups.GetByExpectedV2(ctx, v2)
		if err != nil {
			return err
		}
		if legacy != nil {
			rec, _, err = m.Migrate(ctx, legacy.GroupID, state)
			return err
		}

		if _, err := groups.CreateV2(ctx, masterKey, recipientID, state); err != nil {
			return err
		}
		rec, err = groups.Get(ctx, v2)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// recordMigration inserts the system message describing who did not carry
// over into the group's thread.
func (m *Migrator) recordMigration(ctx context.Context, rec *store.GroupRecord) error {
	var change MigrationChange
	for _, id := range rec.UnmigratedMembers {
		if slices.Contains(rec.PendingMembers, id) {
			change.Invited = append(change.Invited, id)
		} else {
			change.Dropped = append(change.Dropped, id)
		}
	}
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode migration change: %w", err)
	}

	from := m.db.Directory().Self()
	if from == 0 {
		from = rec.RecipientID
	}
	now := m.now().UnixMilli()
	_, _, err = m.db.Text().InsertIncoming(ctx, store.IncomingMessage{
		From:       from,
		Group:      rec.RecipientID,
		Type:       msgtype.Of(msgtype.GV1Migration, 0),
		Body:       string(body),
		SentAt:     now,
		ReceivedAt: now,
		Read:       true,
	})
	return err
}
