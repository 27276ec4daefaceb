package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

const redirectColumns = `code, owner_token_hash, password_hash, destination_url, routing_mode, routing_config,
	max_scans, scan_count, expires_at, is_active, created_at, last_accessed_at`

// CreateRedirect inserts an active redirect.
func (r *Repository) CreateRedirect(ctx context.Context, rd *model.Redirect) error {
	owner, err := ownerColumn(rd.OwnerTokenHash)
	if err != nil {
		return err
	}
	routing, err := encodeRouting(rd.RoutingConfig)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO dynamic_redirects (code, owner_token_hash, password_hash, destination_url, routing_mode, routing_config,
			max_scans, scan_count, expires_at, is_active, created_at, last_accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rd.Code, owner, passwordColumn(rd.PasswordHash), rd.DestinationURL, string(rd.RoutingMode), routing,
		rd.MaxScans, rd.ScanCount, rd.ExpiresAt, rd.IsActive, rd.CreatedAt, rd.LastAccessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateCode
		}
		return fmt.Errorf("insert redirect: %w", err)
	}
	return nil
}

// GetRedirect returns a redirect by code.
func (r *Repository) GetRedirect(ctx context.Context, code string) (*model.Redirect, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+redirectColumns+` FROM dynamic_redirects WHERE code=$1`, code)
	rd, err := scanRedirect(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select redirect: %w", err)
	}
	return rd, nil
}

// RecordScan increments scan_count only while every guard holds, so two
// concurrent scans can never push the count past max_scans.
func (r *Repository) RecordScan(ctx context.Context, code string, at time.Time) (*model.Redirect, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE dynamic_redirects
		SET scan_count=scan_count+1, last_accessed_at=$2
		WHERE code=$1
			AND is_active
			AND (max_scans IS NULL OR scan_count < max_scans)
			AND (expires_at IS NULL OR expires_at >= $2)
		RETURNING `+redirectColumns, code, at)
	rd, err := scanRedirect(row)
	if err == nil {
		return rd, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record scan: %w", err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM dynamic_redirects WHERE code=$1)`, code).Scan(&exists); err != nil {
		return nil, fmt.Errorf("record scan: %w", err)
	}
	if exists {
		return nil, model.ErrInactive
	}
	return nil, model.ErrNotFound
}

// Deactivate sets is_active to false.
func (r *Repository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE dynamic_redirects SET is_active=FALSE WHERE code=$1`, code)
	if err != nil {
		return fmt.Errorf("deactivate redirect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SaveRedirect writes the editable fields and returns the stored row.
// scan_count is never overwritten and is_active only when setActive is true.
func (r *Repository) SaveRedirect(ctx context.Context, rd *model.Redirect, setActive bool) (*model.Redirect, error) {
	routing, err := encodeRouting(rd.RoutingConfig)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE dynamic_redirects
		SET destination_url=$2, routing_mode=$3, routing_config=$4, max_scans=$5,
			expires_at=$6, password_hash=$7,
			is_active=CASE WHEN $8::boolean THEN $9::boolean ELSE is_active END
		WHERE code=$1
		RETURNING `+redirectColumns, rd.Code, rd.DestinationURL, string(rd.RoutingMode), routing, rd.MaxScans,
		rd.ExpiresAt, passwordColumn(rd.PasswordHash), setActive, rd.IsActive)
	saved, err := scanRedirect(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("update redirect: %w", err)
	}
	return saved, nil
}

func encodeRouting(cfg *model.RoutingConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode routing config: %w", err)
	}
	return b, nil
}

func scanRedirect(row pgx.Row) (*model.Redirect, error) {
	var (
		rd       model.Redirect
		owner    string
		password sql.NullString
		mode     string
		routing  []byte
		maxScans sql.NullInt32
	)
	if err := row.Scan(&rd.Code, &owner, &password, &rd.DestinationURL, &mode, &routing,
		&maxScans, &rd.ScanCount, &rd.ExpiresAt, &rd.IsActive, &rd.CreatedAt, &rd.LastAccessedAt); err != nil {
		return nil, err
	}
	ownerHash, pwHash, err := parseHashes(owner, password)
	if err != nil {
		return nil, fmt.Errorf("redirect %s: %w", rd.Code, err)
	}
	rd.OwnerTokenHash, rd.PasswordHash = ownerHash, pwHash
	rd.RoutingMode = model.RoutingMode(mode)
	if len(routing) > 0 {
		var cfg model.RoutingConfig
		if err := json.Unmarshal(routing, &cfg); err != nil {
			return nil, fmt.Errorf("decode routing for redirect %s: %w", rd.Code, err)
		}
		rd.RoutingConfig = &cfg
	}
	if maxScans.Valid {
		n := int(maxScans.Int32)
		rd.MaxScans = &n
	}
	return &rd, nil
}
