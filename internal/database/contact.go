package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chatflow/chatflow/internal/database/models"
)

// contactRepo implements ContactRepository.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// AddMutual creates both directions of a contact relationship in one
// transaction. Re-adding an existing contact is a no-op.
func (r *contactRepo) AddMutual(ctx context.Context, userID, otherID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning contact transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO contacts (user_id, contact_id, created_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(user_id, contact_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert, userID, otherID); err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, otherID, userID); err != nil {
		return fmt.Errorf("inserting reverse contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contact transaction: %w", err)
	}
	return nil
}

// List returns all contact rows owned by a user.
func (r *contactRepo) List(ctx context.Context, userID string) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, contact_id, blocked, created_at
		 FROM contacts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.UserID, &c.ContactID, &c.Blocked, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// RemoveMutual deletes both directions of a contact relationship.
func (r *contactRepo) RemoveMutual(ctx context.Context, userID, otherID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM contacts
		 WHERE (user_id = ? AND contact_id = ?) OR (user_id = ? AND contact_id = ?)`,
		userID, otherID, otherID, userID)
	if err != nil {
		return fmt.Errorf("removing contact: %w", err)
	}
	return nil
}

// SetBlocked flags one direction of the relationship. Blocking is
// one-sided; the blocked user's own row is untouched.
func (r *contactRepo) SetBlocked(ctx context.Context, userID, contactID string, blocked bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET blocked = ? WHERE user_id = ? AND contact_id = ?`,
		blocked, userID, contactID)
	if err != nil {
		return fmt.Errorf("setting contact blocked flag: %w", err)
	}
	return nil
}

// AreContacts reports whether both directions exist and neither side has
// blocked the other. This is the reachability check for chats and calls.
func (r *contactRepo) AreContacts(ctx context.Context, userID, otherID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts
		 WHERE blocked = 0
		   AND ((user_id = ? AND contact_id = ?) OR (user_id = ? AND contact_id = ?))`,
		userID, otherID, otherID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking contact relationship: %w", err)
	}
	return count == 2, nil
}

// IsBlocked reports whether userID has blocked otherID.
func (r *contactRepo) IsBlocked(ctx context.Context, userID, otherID string) (bool, error) {
	var blocked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT blocked FROM contacts WHERE user_id = ? AND contact_id = ?`,
		userID, otherID,
	).Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blocked flag: %w", err)
	}
	return blocked, nil
}
