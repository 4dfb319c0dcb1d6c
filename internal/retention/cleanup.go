// Package retention purges attachment metadata and bytes that are no longer
// referenced by any message.
package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chatflow/chatflow/internal/database"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// attachments older than maxDays that no message references. The row is
// deleted and the stored bytes are removed from the attachments directory
// under dataDir. If maxDays is 0, no cleanup is performed. The goroutine
// stops when the provided context is cancelled.
func StartCleanupTicker(ctx context.Context, attachments database.AttachmentRepository, dataDir string, maxDays int, interval time.Duration) {
	if maxDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := attachments.DeleteOrphaned(ctx, maxDays)
				if err != nil {
					slog.Error("attachment retention cleanup failed", "error", err)
					continue
				}
				if len(ids) == 0 {
					continue
				}

				slog.Info("attachment retention cleanup", "deleted", len(ids), "max_days", maxDays)

				// Remove stored bytes from disk.
				for _, id := range ids {
					p := filepath.Join(dataDir, "attachments", id)
					if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
						slog.Warn("failed to remove attachment file", "path", p, "error", err)
					}
				}
			}
		}
	}()
}
