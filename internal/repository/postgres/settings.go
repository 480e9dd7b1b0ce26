package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/ignite/mailengine/internal/domain"
)

// undefinedTable is the Postgres SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// ErrSettingsTableMissing is returned when the email_settings table has not
// been created.
var ErrSettingsTableMissing = errors.New("email_settings table does not exist")

// SettingsRepo loads persisted email settings documents from PostgreSQL.
//
//	CREATE TABLE email_settings (
//	    org_id     TEXT PRIMARY KEY,
//	    settings   JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type SettingsRepo struct{ db *sql.DB }

// NewSettingsRepo creates a Postgres-backed settings repository.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

// Open connects to Postgres with the lib/pq driver and verifies the
// connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Settings returns the settings for orgID. A missing row yields empty
// settings so resolution falls back to the environment.
func (r *SettingsRepo) Settings(ctx context.Context, orgID string) (*domain.Settings, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT settings FROM email_settings WHERE org_id = $1`,
		orgID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Settings{}, nil
	}
	if err != nil {
		return nil, mapPQError("load email settings", err)
	}

	var s domain.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode email settings for %s: %w", orgID, err)
	}
	return &s, nil
}

// Save upserts the settings document for orgID.
func (r *SettingsRepo) Save(ctx context.Context, orgID string, s *domain.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode email settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_settings (org_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (org_id) DO UPDATE SET settings = $2, updated_at = NOW()
	`, orgID, raw)
	if err != nil {
		return mapPQError("save email settings", err)
	}
	return nil
}

func mapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == undefinedTable {
		return fmt.Errorf("%s: %w", op, ErrSettingsTableMissing)
	}
	return fmt.Errorf("%s: %w", op, err)
}
