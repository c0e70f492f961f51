package event

// RelationKind 关系变更类型
type RelationKind int8

const (
	RelationBlocked RelationKind = iota + 1
	RelationUnblocked
	RelationFollowed
	RelationUnfollowed
	AccountAdded
	AccountRemoved
)

func (k RelationKind) String() string {
	switch k {
	case RelationBlocked:
		return "blocked"
	case RelationUnblocked:
		return "unblocked"
	case RelationFollowed:
		return "followed"
	case RelationUnfollowed:
		return "unfollowed"
	case AccountAdded:
		return "account_added"
	case AccountRemoved:
		return "account_removed"
	default:
		return "unknown"
	}
}

// RelationChanged is published whenever a local account's relations change.
// TargetID is zero for account add/remove.
type RelationChanged struct {
	Kind      RelationKind
	AccountID int64
	TargetID  int64
}

// AffectsBlocks reports whether the change can alter the blocked-user set.
func (e RelationChanged) AffectsBlocks() bool {
	switch e.Kind {
	case RelationBlocked, RelationUnblocked, AccountAdded, AccountRemoved:
		return true
	}
	return false
}
