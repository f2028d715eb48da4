package bus

import (
	"strings"
	"time"
)

// Event is a single bus message.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Non-feed event kinds.
const (
	KindSendAck       = "message.send_ack"
	KindSendFailed    = "message.send_failed"
	KindStatusChanged = "daemon.status_changed"
)

// Change-feed change types carried in the last segment of a recent.* kind.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// RecentKind builds the event kind for a summary change in ownerID's
// partition, e.g. "recent.u1.modified".
func RecentKind(ownerID, change string) string {
	return "recent." + ownerID + "." + change
}

// RecentNamespace is the subscription prefix covering every summary change
// for one owner.
func RecentNamespace(ownerID string) string {
	return "recent." + ownerID + "."
}

// ChangeType extracts the change type from a recent.* event kind.
func ChangeType(kind string) string {
	return kind[strings.LastIndexByte(kind, '.')+1:]
}
