package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/groupid"
)

// GroupTable stores group records. A V1 record is migrated to its V2
// identity in place, so a group has exactly one row across its lifetime.
type GroupTable struct {
	db *DB
}

const groupColumns = `_id, group_id, recipient_id, title, members, pending_members, unmigrated_members,
	master_key, revision, expected_v2_id, active`

func (g *GroupTable) scan(s rowScanner) (*GroupRecord, error) {
	var rec GroupRecord
	var gid string
	var title, members, pending, unmigrated, expected sql.NullString
	err := s.Scan(&rec.ID, &gid, &rec.RecipientID, &title, &members, &pending, &unmigrated,
		&rec.MasterKey, &rec.Revision, &expected, &rec.Active)
	if err != nil {
		return nil, err
	}
	rec.GroupID = groupid.ID(gid)
	rec.Title = title.String
	rec.Members = g.db.decodeMembers("members", members)
	rec.PendingMembers = g.db.decodeMembers("pending_members", pending)
	rec.UnmigratedMembers = g.db.decodeMembers("unmigrated_members", unmigrated)
	rec.ExpectedV2ID = groupid.ID(expected.String)
	return &rec, nil
}

func (g *GroupTable) getWhere(ctx context.Context, where string, arg any) (*GroupRecord, error) {
	rec, err := g.scan(g.db.conn(ctx).QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM group_record WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return rec, nil
}

// Get returns the group with the given id, or nil if absent.
func (g *GroupTable) Get(ctx context.Context, id groupid.ID) (*GroupRecord, error) {
	return g.getWhere(ctx, "group_id = ?", string(id))
}

// GetByRecipient returns the group addressed by a recipient id, or nil.
func (g *GroupTable) GetByRecipient(ctx context.Context, recipientID int64) (*GroupRecord, error) {
	return g.getWhere(ctx, "recipient_id = ?", recipientID)
}

// GetByExpectedV2 returns the V1 group that will migrate to v2, or nil.
func (g *GroupTable) GetByExpectedV2(ctx context.Context, v2 groupid.ID) (*GroupRecord, error) {
	return g.getWhere(ctx, "expected_v2_id = ?", string(v2))
}

// IsGroupRecipient reports whether a recipient id addresses a group.
func (g *GroupTable) IsGroupRecipient(ctx context.Context, recipientID int64) (bool, error) {
	var exists bool
	err := g.db.conn(ctx).QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM group_record WHERE recipient_id = ?)", recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("group recipient check: %w", err)
	}
	return exists, nil
}

// List returns every group record.
func (g *GroupTable) List(ctx context.Context) ([]GroupRecord, error) {
	rows, err := g.db.conn(ctx).QueryContext(ctx, "SELECT "+groupColumns+" FROM group_record ORDER BY _id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupRecord
	for rows.Next() {
		rec, err := g.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CreateV1 stores a legacy group on first contact. A V1 group whose derived
// V2 identity already exists is refused: the two would collide on migration.
func (g *GroupTable) CreateV1(ctx context.Context, id groupid.ID, recipientID int64, title string, members []int64) error {
	if !id.IsV1() {
		return fmt.Errorf("create v1 group: %q is not a v1 id", string(id))
	}
	v2, _, err := groupid.DeriveV2(id)
	if err != nil {
		return err
	}
	encoded, err := encodeMembers(members)
	if err != nil {
		return err
	}
	return g.db.InTx(ctx, func(ctx context.Context) error {
		existing, err := g.Get(ctx, v2)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConsistencyError{Op: "create v1 group", Detail: fmt.Sprintf("derived v2 id of %s already exists", id)}
		}
		if _, err := g.db.conn(ctx).ExecContext(ctx, `
			INSERT INTO group_record (group_id, recipient_id, title, members, expected_v2_id)
			VALUES (?, ?, ?, ?, ?)`, string(id), recipientID, nullableString(title), encoded, string(v2)); err != nil {
			return fmt.Errorf("insert v1 group: %w", err)
		}
		return nil
	})
}

// CreateV2 stores a revisioned group from its first authoritative state.
func (g *GroupTable) CreateV2(ctx context.Context, masterKey []byte, recipientID int64, state GroupState) (groupid.ID, error) {
	id, err := groupid.FromMasterKey(masterKey)
	if err != nil {
		return "", err
	}
	members, err := encodeMembers(state.Members)
	if err != nil {
		return "", err
	}
	pending, err := encodeMembers(state.Pending)
	if err != nil {
		return "", err
	}
	_, err = g.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO group_record (group_id, recipient_id, title, members, pending_members, master_key, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(id), recipientID, nullableString(state.Title), members, pending, masterKey, state.Revision)
	if err != nil {
		return "", fmt.Errorf("insert v2 group: %w", err)
	}
	return id, nil
}

// Update applies an authoritative V2 state. Members named by change are
// removed from the unmigrated set.
func (g *GroupTable) Update(ctx context.Context, id groupid.ID, state GroupState, change *GroupChange) error {
	return g.db.InTx(ctx, func(ctx context.Context) error {
		rec, err := g.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("update group %s: %w", id, ErrNoSuchGroup)
		}
		members, err := encodeMembers(state.Members)
		if err != nil {
			return err
		}
		pending, err := encodeMembers(state.Pending)
		if err != nil {
			return err
		}
		unmigrated := rec.UnmigratedMembers
		if change != nil {
			unmigrated = without(unmigrated, change.Touched())
		}
		encodedUnmigrated, err := encodeMembers(unmigrated)
		if err != nil {
			return err
		}
		if _, err := g.db.conn(ctx).ExecContext(ctx, `
			UPDATE group_record SET title = ?, members = ?, pending_members = ?, unmigrated_members = ?, revision = ?
			WHERE group_id = ?`,
			nullableString(state.Title), members, pending, encodedUnmigrated, state.Revision, string(id)); err != nil {
			return fmt.Errorf("update group: %w", err)
		}
		return nil
	})
}

// RemoveUnmigrated drops members from the unmigrated set.
func (g *GroupTable) RemoveUnmigrated(ctx context.Context, id groupid.ID, members []int64) error {
	return g.db.InTx(ctx, func(ctx context.Context) error {
		rec, err := g.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("remove unmigrated %s: %w", id, ErrNoSuchGroup)
		}
		encoded, err := encodeMembers(without(rec.UnmigratedMembers, members))
		if err != nil {
			return err
		}
		_, err = g.db.conn(ctx).ExecContext(ctx,
			"UPDATE group_record SET unmigrated_members = ? WHERE group_id = ?", encoded, string(id))
		if err != nil {
			return fmt.Errorf("remove unmigrated: %w", err)
		}
		return nil
	})
}

// SetActive records whether the local user is still a member.
func (g *GroupTable) SetActive(ctx context.Context, id groupid.ID, active bool) error {
	r, err := g.db.conn(ctx).ExecContext(ctx, "UPDATE group_record SET active = ? WHERE group_id = ?", active, string(id))
	if err != nil {
		return fmt.Errorf("set group active: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrNoSuchGroup
	}
	return nil
}

// MigrateToV2 swaps a V1 record to its derived V2 identity in place and
// stores the authoritative state. Members of the V1 group that are not full
// members of the V2 group become unmigrated. Anything other than exactly one
// updated row is a consistency violation.
func (g *GroupTable) MigrateToV2(ctx context.Context, v1 groupid.ID, state GroupState) (*GroupRecord, error) {
	v2, masterKey, err := groupid.DeriveV2(v1)
	if err != nil {
		return nil, err
	}

	var migrated *GroupRecord
	err = g.db.InTx(ctx, func(ctx context.Context) error {
		collision, err := g.Get(ctx, v2)
		if err != nil {
			return err
		}
		if collision != nil {
			return &ConsistencyError{Op: "migrate group", Detail: fmt.Sprintf("v2 id %s already exists", v2)}
		}
		legacy, err := g.Get(ctx, v1)
		if err != nil {
			return err
		}
		if legacy == nil {
			return &ConsistencyError{Op: "migrate group", Detail: string(v1), Err: ErrNoSuchGroup}
		}

		unmigrated := without(legacy.Members, state.Members)
		members, err := encodeMembers(state.Members)
		if err != nil {
			return err
		}
		pending, err := encodeMembers(state.Pending)
		if err != nil {
			return err
		}
		encodedUnmigrated, err := encodeMembers(unmigrated)
		if err != nil {
			return err
		}

		title := state.Title
		if title == "" {
			title = legacy.Title
		}
		r, err := g.db.conn(ctx).ExecContext(ctx, `
			UPDATE group_record SET group_id = ?, master_key = ?, title = ?, members = ?, pending_members = ?,
				unmigrated_members = ?, revision = ?, expected_v2_id = NULL
			WHERE group_id = ?`,
			string(v2), masterKey, nullableString(title), members, pending, encodedUnmigrated, state.Revision, string(v1))
		if err != nil {
			return fmt.Errorf("migrate group: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("migrate group rows: %w", err)
		}
		if n != 1 {
			return &ConsistencyError{Op: "migrate group", Detail: fmt.Sprintf("updated %d rows for %s", n, v1)}
		}

		if migrated, err = g.Get(ctx, v2); err != nil {
			return err
		}
		g.db.logger.Info("group migrated",
			zap.String("v1", string(v1)), zap.String("v2", string(v2)), zap.Int("unmigrated", len(unmigrated)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return migrated, nil
}

// without returns the members of set that are not in remove, in order.
func without(set, remove []int64) []int64 {
	var out []int64
	for _, m := range set {
		if !slices.Contains(remove, m) {
			out = append(out, m)
		}
	}
	return out
}
