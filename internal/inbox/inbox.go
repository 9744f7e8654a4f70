// Package inbox implements directed agent-to-agent messages: a single table,
// no in-memory cache, mirroring the teacher's plain CRUD store shape.
package inbox

import (
	"database/sql"
	"fmt"
	"time"
)

// Message is one inbox entry.
type Message struct {
	ID             int64  `json:"id"`
	RecipientAgent string `json:"recipientAgent"`
	Sender         string `json:"sender,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"createdAt"`
}

// Store owns the inbox_messages table.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func now() int64 { return time.Now().UnixMilli() }

// Send inserts a new inbox message for recipientAgent.
func (s *Store) Send(recipientAgent, sender, content, msgType string) (*Message, error) {
	if msgType == "" {
		msgType = "note"
	}
	res, err := s.db.Exec(`INSERT INTO inbox_messages (recipient_agent, sender, content, type, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`, recipientAgent, sender, content, msgType, now())
	if err != nil {
		return nil, fmt.Errorf("send inbox message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("send inbox message: %w", err)
	}
	return &Message{ID: id, RecipientAgent: recipientAgent, Sender: sender, Content: content, Type: msgType, CreatedAt: now()}, nil
}

// List returns recipientAgent's messages, newest first. When unreadOnly is
// set, only messages with read=false are returned.
func (s *Store) List(recipientAgent string, unreadOnly bool, limit int) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := "SELECT id, recipient_agent, sender, content, type, is_read, created_at FROM inbox_messages WHERE recipient_agent = ?"
	args := []interface{}{recipientAgent}
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var isRead int
		if err := rows.Scan(&m.ID, &m.RecipientAgent, &m.Sender, &m.Content, &m.Type, &isRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Read = isRead != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead flips is_read for one message.
func (s *Store) MarkRead(id int64) error {
	_, err := s.db.Exec("UPDATE inbox_messages SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark inbox message read: %w", err)
	}
	return nil
}
