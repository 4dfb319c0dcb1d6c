package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chatflow/chatflow/internal/database/models"
)

// friendRequestRepo implements FriendRequestRepository.
type friendRequestRepo struct {
	db *DB
}

// NewFriendRequestRepository creates a new FriendRequestRepository.
func NewFriendRequestRepository(db *DB) FriendRequestRepository {
	return &friendRequestRepo{db: db}
}

// Create inserts a new friend request in pending state.
func (r *friendRequestRepo) Create(ctx context.Context, req *models.FriendRequest) error {
	if req.Status == "" {
		req.Status = models.FriendRequestPending
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO friend_requests (from_user_id, to_user_id, status, created_at)
		 VALUES (?, ?, ?, datetime('now'))`,
		req.FromUserID, req.ToUserID, req.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting friend request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	req.ID = id
	return nil
}

// GetByID returns a friend request by ID, or nil if not found.
func (r *friendRequestRepo) GetByID(ctx context.Context, id int64) (*models.FriendRequest, error) {
	var req models.FriendRequest
	err := r.db.QueryRowContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM friend_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt, &req.RespondedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying friend request by id: %w", err)
	}
	return &req, nil
}

// GetPendingBetween returns the pending request from one user to another,
// or nil if none exists. Used to prevent duplicate invitations.
func (r *friendRequestRepo) GetPendingBetween(ctx context.Context, fromUserID, toUserID string) (*models.FriendRequest, error) {
	var req models.FriendRequest
	err := r.db.QueryRowContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM friend_requests
		 WHERE from_user_id = ? AND to_user_id = ? AND status = ?`,
		fromUserID, toUserID, models.FriendRequestPending,
	).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt, &req.RespondedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending friend request: %w", err)
	}
	return &req, nil
}

// ListIncoming returns pending requests addressed to a user.
func (r *friendRequestRepo) ListIncoming(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return r.list(ctx, `WHERE to_user_id = ? AND status = ?`, userID, models.FriendRequestPending)
}

// ListOutgoing returns pending requests sent by a user.
func (r *friendRequestRepo) ListOutgoing(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return r.list(ctx, `WHERE from_user_id = ? AND status = ?`, userID, models.FriendRequestPending)
}

func (r *friendRequestRepo) list(ctx context.Context, where string, args ...any) ([]models.FriendRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM friend_requests `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying friend requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.FriendRequest
	for rows.Next() {
		var req models.FriendRequest
		if err := rows.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt, &req.RespondedAt); err != nil {
			return nil, fmt.Errorf("scanning friend request row: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// UpdateStatus resolves a request and stamps the response time.
func (r *friendRequestRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE friend_requests SET status = ?, responded_at = datetime('now') WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating friend request status: %w", err)
	}
	return nil
}

// Delete removes a friend request by ID.
func (r *friendRequestRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM friend_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting friend request: %w", err)
	}
	return nil
}
