package database

import (
	"context"
	"fmt"

	"github.com/chatflow/chatflow/internal/database/models"
)

type pushTokenRepo struct {
	db *DB
}

func NewPushTokenRepository(db *DB) PushTokenRepository {
	return &pushTokenRepo{db: db}
}

// Upsert stores a device's push token. One row exists per
// (user_id, device_id); re-registering the same device replaces the
// token, platform and app version in place.
func (r *pushTokenRepo) Upsert(ctx context.Context, token *models.PushToken) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO push_tokens (user_id, token, platform, device_id, app_version, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(user_id, device_id) DO UPDATE SET
		   token = excluded.token,
		   platform = excluded.platform,
		   app_version = excluded.app_version,
		   updated_at = datetime('now')`,
		token.UserID, token.Token, token.Platform, token.DeviceID, token.AppVersion,
	)
	if err != nil {
		return fmt.Errorf("upserting push token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	token.ID = id
	return nil
}

// GetByUserID lists a user's registered device tokens, most recently
// refreshed first.
func (r *pushTokenRepo) GetByUserID(ctx context.Context, userID string) ([]models.PushToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token, platform, device_id, app_version, created_at, updated_at
		 FROM push_tokens WHERE user_id = ? ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying push tokens by user: %w", err)
	}
	defer rows.Close()

	var tokens []models.PushToken
	for rows.Next() {
		var t models.PushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform,
			&t.DeviceID, &t.AppVersion, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning push token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *pushTokenRepo) DeleteByUserAndDevice(ctx context.Context, userID, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE user_id = ? AND device_id = ?`,
		userID, deviceID)
	if err != nil {
		return fmt.Errorf("deleting push token by user and device: %w", err)
	}
	return nil
}

// DeleteByToken drops a token by its value, for when the push gateway
// reports it unregistered.
func (r *pushTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting push token by value: %w", err)
	}
	return nil
}

// DeleteByUserID clears every token a user has registered, used on
// account deletion.
func (r *pushTokenRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting push tokens by user: %w", err)
	}
	return nil
}
