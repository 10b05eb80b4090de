package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is a change notification carried by the bus. Kind is a dotted name
// such as "thread.changed"; subscribers filter on its prefix.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps a fresh event with a random id.
func NewEvent(kind string, ts time.Time, payload any) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Timestamp: ts, Payload: payload}
}
