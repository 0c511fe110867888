package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Message represents a chat message record
type Message struct {
	ID          int64
	SenderID    int64
	Category    string
	DisplayName *string // nil when posted by an unnamed account
	Content     string
	CreatedAt   int64 // Unix timestamp in milliseconds
}

// PostMessage stores a chat message and returns it with its Snowflake id
func (db *DB) PostMessage(ctx context.Context, senderID int64, category string, displayName *string, content string) (*Message, error) {
	msg := &Message{
		ID:          db.snowflake.NextID(),
		SenderID:    senderID,
		Category:    category,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   nowMillis(),
	}

	_, err := db.writeConn.ExecContext(ctx, db.rebind(`
		INSERT INTO messages (message_id, sender_id, category, display_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.SenderID, msg.Category, msg.DisplayName, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}

	return msg, nil
}

// ListRecentMessages returns up to limit messages, newest first
func (db *DB) ListRecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT message_id, sender_id, category, display_name, content, created_at
		FROM messages ORDER BY message_id DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var senderID sql.NullInt64
		var displayName sql.NullString
		if err := rows.Scan(&msg.ID, &senderID, &msg.Category, &displayName, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.SenderID = senderID.Int64
		if displayName.Valid {
			msg.DisplayName = &displayName.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearMessages deletes the whole chat history
func (db *DB) ClearMessages(ctx context.Context) (int64, error) {
	res, err := db.writeConn.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear messages: %w", err)
	}
	return res.RowsAffected()
}
