package store

// User is a directory entry: who can be messaged and how to render them.
type User struct {
	UID          string
	Email        string
	Avatar       string
	PasswordHash string
}

// Message is one record in a mailbox partition. Immutable once written.
type Message struct {
	DocID     string
	FromID    string
	ToID      string
	Body      string
	Timestamp int64
}

// ConversationSummary holds the latest message exchanged with one
// counterpart, as seen from the owner's side. CounterpartID doubles as the
// summary's document id within the owner's partition.
type ConversationSummary struct {
	OwnerID       string
	CounterpartID string
	FromID        string
	ToID          string
	Body          string
	Avatar        string
	Email         string
	Timestamp     int64
}

// OutboxEntry is a pending or settled asynchronous send.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	FromID       string
	ToID         string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
