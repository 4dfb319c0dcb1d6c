package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatflow/chatflow/internal/database/models"
)

// attachmentRepo implements AttachmentRepository.
type attachmentRepo struct {
	db *DB
}

// NewAttachmentRepository creates a new AttachmentRepository.
func NewAttachmentRepository(db *DB) AttachmentRepository {
	return &attachmentRepo{db: db}
}

// Create inserts attachment metadata. A UUID is assigned if unset.
func (r *attachmentRepo) Create(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attachments (id, owner_id, file_name, mime_type, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		att.ID, att.OwnerID, att.FileName, att.MimeType, att.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

// GetByID returns an attachment by ID, or nil if not found.
func (r *attachmentRepo) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	var a models.Attachment
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, file_name, mime_type, size_bytes, created_at
		 FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.OwnerID, &a.FileName, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment by id: %w", err)
	}
	return &a, nil
}

// ListByOwner returns all attachments uploaded by a user.
func (r *attachmentRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, file_name, mime_type, size_bytes, created_at
		 FROM attachments WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments by owner: %w", err)
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.FileName, &a.MimeType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// Delete removes an attachment by ID.
func (r *attachmentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	return nil
}

// DeleteOrphaned removes attachments older than the given number of days that
// no message references, and returns the IDs of the deleted rows so callers
// can remove the stored bytes.
func (r *attachmentRepo) DeleteOrphaned(ctx context.Context, days int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM attachments
		 WHERE created_at < datetime('now', '-' || ? || ' days')
		 AND id NOT IN (SELECT attachment_id FROM messages WHERE attachment_id IS NOT NULL)`, days)
	if err != nil {
		return nil, fmt.Errorf("querying orphaned attachments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning orphaned attachment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orphaned attachment rows: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM attachments
		 WHERE created_at < datetime('now', '-' || ? || ' days')
		 AND id NOT IN (SELECT attachment_id FROM messages WHERE attachment_id IS NOT NULL)`, days)
	if err != nil {
		return nil, fmt.Errorf("deleting orphaned attachments: %w", err)
	}
	return ids, nil
}
