package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

const bucketColumns = `code, owner_token_hash, password_hash, is_reusable, delete_on_download, is_empty,
	content_type, content, content_metadata, storage_path, download_count,
	created_at, last_accessed_at, filled_at, last_emptied_at`

// CreateBucket inserts an empty bucket.
func (r *Repository) CreateBucket(ctx context.Context, b *model.Bucket) error {
	owner, err := ownerColumn(b.OwnerTokenHash)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO buckets (code, owner_token_hash, password_hash, is_reusable, delete_on_download, is_empty, download_count, created_at, last_accessed_at)
		VALUES ($1,$2,$3,$4,$5,TRUE,0,$6,$7)
	`, b.Code, owner, passwordColumn(b.PasswordHash), b.IsReusable, b.DeleteOnDownload, b.CreatedAt, b.LastAccessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateCode
		}
		return fmt.Errorf("insert bucket: %w", err)
	}
	return nil
}

// GetBucket returns a bucket by code.
func (r *Repository) GetBucket(ctx context.Context, code string) (*model.Bucket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE code=$1`, code)
	b, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select bucket: %w", err)
	}
	return b, nil
}

// FillBucket writes content only while the bucket is empty.
func (r *Repository) FillBucket(ctx context.Context, code string, content model.BucketContent, at time.Time) (*model.Bucket, error) {
	md, err := json.Marshal(content.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var storagePath *string
	if content.Metadata.StoragePath != "" {
		storagePath = &content.Metadata.StoragePath
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE buckets
		SET is_empty=FALSE, content_type=$2, content=$3, content_metadata=$4, storage_path=$5,
			filled_at=$6, last_accessed_at=$6
		WHERE code=$1 AND is_empty
		RETURNING `+bucketColumns,
		code, string(content.Type), content.Content, md, storagePath, at)
	b, err := scanBucket(row)
	if err != nil {
		return nil, r.bucketMiss(ctx, code, err, "fill bucket")
	}
	return b, nil
}

// ConsumeBucket claims the content for one download and applies the mode's
// transition in the same statement.
func (r *Repository) ConsumeBucket(ctx context.Context, code string, mode model.BucketMode, at time.Time) (*model.Bucket, error) {
	var row pgx.Row
	switch mode {
	case model.ModeSingleDrop:
		row = r.pool.QueryRow(ctx, `DELETE FROM buckets WHERE code=$1 AND NOT is_empty RETURNING `+bucketColumns, code)
	case model.ModePingPong:
		return r.clearBucket(ctx, code, at, true)
	default:
		row = r.pool.QueryRow(ctx, `
			UPDATE buckets SET download_count=download_count+1, last_accessed_at=$2
			WHERE code=$1 AND NOT is_empty
			RETURNING `+bucketColumns, code, at)
	}
	b, err := scanBucket(row)
	if err != nil {
		return nil, r.bucketMiss(ctx, code, err, "consume bucket")
	}
	return b, nil
}

// EmptyBucket clears content without counting a download.
func (r *Repository) EmptyBucket(ctx context.Context, code string, at time.Time) (*model.Bucket, error) {
	return r.clearBucket(ctx, code, at, false)
}

// clearBucket empties a full bucket and returns the row as it was before.
// The FOR UPDATE subquery re-checks NOT is_empty after waiting on a
// concurrent writer, so only one caller observes the content.
func (r *Repository) clearBucket(ctx context.Context, code string, at time.Time, countDownload bool) (*model.Bucket, error) {
	increment := 0
	if countDownload {
		increment = 1
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE buckets b
		SET is_empty=TRUE, content_type=NULL, content=NULL, content_metadata=NULL, storage_path=NULL,
			filled_at=NULL, last_emptied_at=$2, last_accessed_at=$2,
			download_count=b.download_count+$3
		FROM (SELECT `+bucketColumns+` FROM buckets WHERE code=$1 AND NOT is_empty FOR UPDATE) prev
		WHERE b.code=prev.code
		RETURNING `+prefixed("prev", bucketColumns), code, at, increment)
	b, err := scanBucket(row)
	if err != nil {
		return nil, r.bucketMiss(ctx, code, err, "clear bucket")
	}
	return b, nil
}

// DeleteBucket removes the bucket and returns its last state.
func (r *Repository) DeleteBucket(ctx context.Context, code string) (*model.Bucket, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM buckets WHERE code=$1 RETURNING `+bucketColumns, code)
	b, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("delete bucket: %w", err)
	}
	return b, nil
}

// SetBucketPassword replaces the password hash.
func (r *Repository) SetBucketPassword(ctx context.Context, code string, hash credential.PasswordHash) error {
	tag, err := r.pool.Exec(ctx, `UPDATE buckets SET password_hash=$2 WHERE code=$1`, code, passwordColumn(hash))
	if err != nil {
		return fmt.Errorf("update bucket password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SweepBuckets applies the retention policy in one transaction.
func (r *Repository) SweepBuckets(ctx context.Context, cutoff, at time.Time) (cleared, deleted []*model.Bucket, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleted, err = collectBuckets(tx.Query(ctx, `
		DELETE FROM buckets WHERE NOT is_reusable AND created_at < $1
		RETURNING `+bucketColumns, cutoff))
	if err != nil {
		return nil, nil, fmt.Errorf("sweep single drop: %w", err)
	}
	cleared, err = collectBuckets(tx.Query(ctx, `
		UPDATE buckets b
		SET is_empty=TRUE, content_type=NULL, content=NULL, content_metadata=NULL, storage_path=NULL,
			filled_at=NULL, last_emptied_at=$2
		FROM (SELECT `+bucketColumns+` FROM buckets WHERE is_reusable AND NOT is_empty AND filled_at < $1 FOR UPDATE) prev
		WHERE b.code=prev.code
		RETURNING `+prefixed("prev", bucketColumns), cutoff, at))
	if err != nil {
		return nil, nil, fmt.Errorf("sweep reusable: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit sweep: %w", err)
	}
	return cleared, deleted, nil
}

// bucketMiss turns a conditional statement that matched no row into
// ErrConflict when the bucket exists and ErrNotFound when it does not.
func (r *Repository) bucketMiss(ctx context.Context, code string, err error, op string) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM buckets WHERE code=$1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return model.ErrConflict
	}
	return model.ErrNotFound
}

func collectBuckets(rows pgx.Rows, err error) ([]*model.Bucket, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBucket(row pgx.Row) (*model.Bucket, error) {
	var (
		b           model.Bucket
		owner       string
		password    sql.NullString
		contentType sql.NullString
		content     sql.NullString
		metadata    []byte
		storagePath sql.NullString
		filledAt    *time.Time
		emptiedAt   *time.Time
	)
	if err := row.Scan(&b.Code, &owner, &password, &b.IsReusable, &b.DeleteOnDownload, &b.IsEmpty,
		&contentType, &content, &metadata, &storagePath, &b.DownloadCount,
		&b.CreatedAt, &b.LastAccessedAt, &filledAt, &emptiedAt); err != nil {
		return nil, err
	}
	ownerHash, pwHash, err := parseHashes(owner, password)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", b.Code, err)
	}
	b.OwnerTokenHash, b.PasswordHash = ownerHash, pwHash
	b.ContentType = model.ContentType(contentType.String)
	b.Content = content.String
	if len(metadata) > 0 {
		var md model.ContentMetadata
		if err := json.Unmarshal(metadata, &md); err != nil {
			return nil, fmt.Errorf("decode metadata for bucket %s: %w", b.Code, err)
		}
		md.StoragePath = storagePath.String
		b.ContentMetadata = &md
	}
	b.FilledAt, b.LastEmptiedAt = filledAt, emptiedAt
	return &b, nil
}
