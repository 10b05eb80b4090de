package store

import "slices"

// RecipientDirectory answers the few identity questions the store needs.
// The store only ever persists and compares opaque recipient ids.
type RecipientDirectory interface {
	// Self is the local account's recipient id.
	Self() int64
	// IsPersistent reports whether a thread with this recipient survives
	// losing its last message.
	IsPersistent(recipientID int64) bool
}

// StaticDirectory is a RecipientDirectory backed by fixed configuration.
type StaticDirectory struct {
	SelfID     int64
	Persistent []int64
}

func (d StaticDirectory) Self() int64 { return d.SelfID }

func (d StaticDirectory) IsPersistent(recipientID int64) bool {
	return slices.Contains(d.Persistent, recipientID)
}
