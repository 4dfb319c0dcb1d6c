package pgstore

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chatflow/chatflow/internal/pushgw"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store backs the push gateway with PostgreSQL. It satisfies both
// pushgw.LicenseStore and pushgw.PushLogger.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL, verifies the connection and brings the
// schema up to date.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations applies any embedded .sql files not yet recorded in
// schema_migrations, each inside its own transaction.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scanning migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}
		if err := s.applyMigration(name, version); err != nil {
			return err
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

func (s *Store) applyMigration(name, version string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", version, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", version, err)
	}
	return nil
}

// ValidateLicense looks up an unexpired license by key. Unknown or
// expired keys return nil, nil.
func (s *Store) ValidateLicense(key string) (*pushgw.License, error) {
	var l pushgw.License
	err := s.db.QueryRow(
		`SELECT id, key, tier, max_users, expires_at, created_at
		 FROM licenses
		 WHERE key = $1
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		key,
	).Scan(&l.ID, &l.Key, &l.Tier, &l.MaxUsers, &l.ExpiresAt, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying license: %w", err)
	}
	return &l, nil
}

// ActivateLicense records a new installation under the given license.
// An unknown or expired key returns nil, nil.
func (s *Store) ActivateLicense(key string, hostname string, version string) (*pushgw.Installation, error) {
	license, err := s.ValidateLicense(key)
	if err != nil || license == nil {
		return nil, err
	}

	var inst pushgw.Installation
	err = s.db.QueryRow(
		`INSERT INTO installations (license_id, instance_id, hostname, version)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, license_id, instance_id, hostname, version, activated_at, last_seen_at`,
		license.ID, uuid.NewString(), hostname, version,
	).Scan(&inst.ID, &inst.LicenseID, &inst.InstanceID, &inst.Hostname, &inst.Version, &inst.ActivatedAt, &inst.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("inserting installation: %w", err)
	}
	return &inst, nil
}

// GetLicenseStatus reports a license together with how many
// installations have activated it. Unknown keys return nil, nil.
func (s *Store) GetLicenseStatus(key string) (*pushgw.LicenseStatus, error) {
	var ls pushgw.LicenseStatus
	var expiresAt *time.Time

	err := s.db.QueryRow(
		`SELECT l.key, l.tier, l.max_users, l.expires_at,
		        COUNT(i.id) AS installation_count
		 FROM licenses l
		 LEFT JOIN installations i ON i.license_id = l.id
		 WHERE l.key = $1
		 GROUP BY l.id`,
		key,
	).Scan(&ls.Key, &ls.Tier, &ls.MaxUsers, &expiresAt, &ls.InstallationCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying license status: %w", err)
	}

	ls.ExpiresAt = expiresAt
	ls.Active = expiresAt == nil || expiresAt.After(time.Now())
	return &ls, nil
}

// Log persists the outcome of one push delivery attempt.
func (s *Store) Log(entry pushgw.PushLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO push_logs (license_key, platform, kind, call_id, success, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.LicenseKey, entry.Platform, entry.Kind, entry.CallID, entry.Success, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting push log: %w", err)
	}
	return nil
}
