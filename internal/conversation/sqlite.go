package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	role           TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content        TEXT NOT NULL,
	timestamp      DATETIME NOT NULL,
	retrieved_docs BLOB
);
CREATE INDEX IF NOT EXISTS idx_messages_session_ts
	ON conversation_messages (session_id, timestamp);
`

// SQLStore is a Store backed by SQLite via sqlx.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLStore opens (or creates) the database at path and ensures the schema.
func NewSQLStore(path string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}

	// SQLite allows a single writer; keep the pool small.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLStore{db: db, logger: logger}, nil
}

// AppendMessage inserts one message row.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("message missing session id")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	const q = `INSERT INTO conversation_messages
		(session_id, role, content, timestamp, retrieved_docs)
		VALUES (?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		msg.SessionID, string(msg.Role), msg.Content, msg.Timestamp.UTC(), msg.RetrievedDocs)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// History returns up to limit messages for a session, oldest first.
func (s *SQLStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Select the newest rows, then return them in ascending order.
	const q = `SELECT id, session_id, role, content, timestamp, retrieved_docs
		FROM (
			SELECT * FROM conversation_messages
			WHERE session_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC`

	var messages []Message
	if err := s.db.SelectContext(ctx, &messages, q, sessionID, limit); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return messages, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PruneOlderThan deletes messages past the retention horizon. Returns the
// number of rows removed.
func (s *SQLStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Pruned conversation messages", zap.Int64("rows", n))
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
