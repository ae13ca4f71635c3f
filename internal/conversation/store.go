// Package conversation provides append-only persistence of exchanged
// messages, keyed by session id.
package conversation

import (
	"context"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted conversation row.
type Message struct {
	ID            int64     `db:"id" json:"id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	Role          Role      `db:"role" json:"role"`
	Content       string    `db:"content" json:"content"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
	RetrievedDocs []byte    `db:"retrieved_docs" json:"retrieved_docs,omitempty"`
}

// Store is the append-only message log. History returns messages for a
// session ordered by timestamp ascending.
type Store interface {
	AppendMessage(ctx context.Context, msg *Message) error
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Ping(ctx context.Context) error
}
