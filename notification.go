package notifyloop

import "time"

// Notification is one generated event. Notifications are immutable once
// constructed, and are generated fresh on every dispatch tick (or pull
// read); they are never persisted.
type Notification struct {
	// ID increases monotonically, starting at 0, within the lifetime of the
	// generating registry (or stream).
	ID uint64
	// Kind is an arbitrary tag.
	Kind string
	// Timestamp is milliseconds since the epoch.
	Timestamp int64
}

func newNotification(id uint64, kind string) Notification {
	return Notification{
		ID:        id,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
}
