package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatflow/chatflow/internal/database/models"
)

// messageRepo implements MessageRepository.
type messageRepo struct {
	db *DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB) MessageRepository {
	return &messageRepo{db: db}
}

// Create inserts a new message. A UUID is assigned if the caller did not
// set one; SentAt defaults to the insertion time.
func (r *messageRepo) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, body, attachment_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, COALESCE(?, datetime('now')))`,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Body, msg.AttachmentID, nullableTime(msg),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func nullableTime(msg *models.Message) any {
	if msg.SentAt.IsZero() {
		return nil
	}
	return msg.SentAt
}

// GetByID returns a message by ID, or nil if not found.
func (r *messageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := r.db.QueryRowContext(ctx,
		`SELECT id, sender_id, recipient_id, body, attachment_id, read_at, sent_at
		 FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.AttachmentID, &m.ReadAt, &m.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by id: %w", err)
	}
	return &m, nil
}

// History returns messages between two users, newest first. When BeforeID
// is set the page starts strictly before that message.
func (r *messageRepo) History(ctx context.Context, userID, peerID string, filter MessageHistoryFilter) ([]models.Message, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT id, sender_id, recipient_id, body, attachment_id, read_at, sent_at
		 FROM messages
		 WHERE ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))`
	args := []any{userID, peerID, peerID, userID}

	if filter.BeforeID != "" {
		query += ` AND sent_at < (SELECT sent_at FROM messages WHERE id = ?)`
		args = append(args, filter.BeforeID)
	}

	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying message history: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.AttachmentID, &m.ReadAt, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkConversationRead stamps every unread message from peerID to userID
// and returns how many were affected.
func (r *messageRepo) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at = datetime('now')
		 WHERE recipient_id = ? AND sender_id = ? AND read_at IS NULL`,
		userID, peerID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// CountUnread returns the number of unread messages addressed to a user.
func (r *messageRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// Count returns the total number of stored messages.
func (r *messageRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}
