package model

// NotificationKind is the kind of a StatusNotification.
type NotificationKind int8

const (
	NotificationAdded NotificationKind = iota + 1
	NotificationRemoved
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationAdded:
		return "added"
	case NotificationRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// StatusNotification is one add/remove event flowing inbox -> broadcaster -> timelines.
type StatusNotification struct {
	Kind NotificationKind
	// Added: the status. Removed: the removed status when the store still had it.
	Status *Status
	// Removed: id of the removed status. Added: mirrors Status.ID.
	ID int64
	// IsNew is false for backfilled or paginated arrivals.
	IsNew bool
	// Republished marks a re-emission of an already stored status whose
	// interaction fields changed.
	Republished bool
}

// Added builds an "added" notification.
func Added(s *Status, isNew bool) StatusNotification {
	return StatusNotification{Kind: NotificationAdded, Status: s, ID: s.ID, IsNew: isNew}
}

// Republished builds an "added" notification for a status that is already stored.
func Republished(s *Status) StatusNotification {
	return StatusNotification{Kind: NotificationAdded, Status: s, ID: s.ID, Republished: true}
}

// Removed builds a "removed" notification; known may be nil.
func Removed(id int64, known *Status) StatusNotification {
	return StatusNotification{Kind: NotificationRemoved, Status: known, ID: id}
}
