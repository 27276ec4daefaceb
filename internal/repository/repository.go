// Package repository is the Postgres implementation of the bucket and
// redirect stores. Each state transition is one conditional statement so the
// database, not the caller, decides which concurrent request wins.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

const uniqueViolation = "23505"

// Repository wraps all SQL used by the API and worker.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseHashes(owner string, password sql.NullString) (credential.OwnerTokenHash, credential.PasswordHash, error) {
	ownerHash, err := credential.ParseOwnerTokenHash(owner)
	if err != nil {
		return nil, nil, fmt.Errorf("owner token hash: %w", err)
	}
	if !password.Valid || password.String == "" {
		return ownerHash, nil, nil
	}
	pwHash, err := credential.ParsePasswordHash(password.String)
	if err != nil {
		return nil, nil, fmt.Errorf("password hash: %w", err)
	}
	return ownerHash, pwHash, nil
}

func passwordColumn(h credential.PasswordHash) *string {
	if h == nil {
		return nil
	}
	s := h.String()
	return &s
}

func ownerColumn(h credential.OwnerTokenHash) (string, error) {
	if h == nil {
		return "", model.Invalid("owner_token", "is required")
	}
	return h.String(), nil
}

// prefixed qualifies every column in a comma separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
