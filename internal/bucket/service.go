// Package bucket implements the bucket lifecycle: create, fill, download
// according to the bucket's mode, drain, delete and the retention sweep.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	pdfutil "github.com/dharsanguruparan/qrdrop/internal/pdf"
	"github.com/dharsanguruparan/qrdrop/internal/safeurl"
	"github.com/dharsanguruparan/qrdrop/internal/shortcode"
)

const previewLength = 100

// Options tunes limits and retention.
type Options struct {
	MaxFileSize     int64
	MaxTextLength   int
	RetentionWindow time.Duration
}

// Service runs bucket transitions against a Store and a ContentStore.
type Service struct {
	store   Store
	content ContentStore
	purger  Purger
	opts    Options
	now     func() time.Time
	gen     func() (string, error)
}

// New builds a Service. A nil purger deletes objects inline.
func New(store Store, content ContentStore, purger Purger, opts Options) *Service {
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = 24 * time.Hour
	}
	return &Service{
		store:   store,
		content: content,
		purger:  purger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		gen:     shortcode.Generate,
	}
}

// CreateRequest configures a new bucket.
type CreateRequest struct {
	Mode     model.BucketMode
	Password string
}

// Created is returned once per bucket; OwnerToken is never shown again.
type Created struct {
	Bucket     *model.Bucket
	OwnerToken string
}

// Create allocates a code and persists an empty bucket.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	mode, err := model.ParseBucketMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	b := model.NewBucket(mode)
	if req.Password != "" {
		h, err := credential.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		b.PasswordHash = h
	}
	token := credential.NewOwnerToken()
	b.OwnerTokenHash = credential.HashOwnerToken(token)
	now := s.now()
	b.CreatedAt, b.LastAccessedAt = now, now

	_, err = shortcode.Allocate(ctx, s.gen, func(ctx context.Context, code string) error {
		b.Code = code
		return s.store.CreateBucket(ctx, b)
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Created{Bucket: b, OwnerToken: token}, nil
}

// Status returns the bucket view; content metadata is redacted unless creds
// authorize a read.
func (s *Service) Status(ctx context.Context, code string, creds authz.Credentials) (authz.BucketView, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	return authz.ViewBucket(b, creds), nil
}

// Unlock is Status that fails with model.ErrUnauthorized instead of redacting.
func (s *Service) Unlock(ctx context.Context, code string, creds authz.Credentials) (authz.BucketView, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	if err := authz.Require(&b.Resource, creds, authz.Read); err != nil {
		return authz.BucketView{}, err
	}
	return authz.ViewBucket(b, creds), nil
}

// FileUpload is a file body ready to be stored. Body must be positioned at
// the start.
type FileUpload struct {
	Filename string
	MimeType string
	Size     int64
	Body     FileBody
}

// FileBody is satisfied by *os.File and *bytes.Reader.
type FileBody interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Upload is one of a file, a text or a link.
type Upload struct {
	Type model.ContentType
	Text string
	URL  string
	File *FileUpload
}

// Upload fills an empty bucket. It requires the owner token.
func (s *Service) Upload(ctx context.Context, code string, creds authz.Credentials, up Upload) (authz.BucketView, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	if err := authz.Require(&b.Resource, creds, authz.Mutate); err != nil {
		return authz.BucketView{}, err
	}
	content, err := s.prepare(up)
	if err != nil {
		return authz.BucketView{}, err
	}
	if !b.IsEmpty {
		return authz.BucketView{}, model.ErrConflict
	}
	if up.Type == model.ContentFile {
		key := objectKey(code, up.File.Filename)
		if _, err := up.File.Body.Seek(0, io.SeekStart); err != nil {
			return authz.BucketView{}, fmt.Errorf("rewind upload: %w", err)
		}
		if err := s.content.Put(ctx, key, up.File.Body, up.File.Size, up.File.MimeType); err != nil {
			return authz.BucketView{}, fmt.Errorf("store content: %w", err)
		}
		content.Metadata.StoragePath = key
	}
	filled, err := s.store.FillBucket(ctx, code, content, s.now())
	if err != nil {
		if key := content.Metadata.StoragePath; key != "" {
			s.purge(ctx, key)
		}
		return authz.BucketView{}, err
	}
	return authz.ViewBucket(filled, creds), nil
}

func (s *Service) prepare(up Upload) (model.BucketContent, error) {
	switch up.Type {
	case model.ContentText:
		if up.Text == "" {
			return model.BucketContent{}, model.Invalid("content", "is required")
		}
		if limit := s.opts.MaxTextLength; limit > 0 && len(up.Text) > limit {
			return model.BucketContent{}, model.Invalid("content", "exceeds %d bytes", limit)
		}
		return model.BucketContent{
			Type:    model.ContentText,
			Content: up.Text,
			Metadata: model.ContentMetadata{
				Length:  utf8.RuneCountInString(up.Text),
				Preview: pdfutil.Truncate(up.Text, previewLength),
			},
		}, nil
	case model.ContentLink:
		if err := safeurl.Validate("url", up.URL); err != nil {
			return model.BucketContent{}, err
		}
		return model.BucketContent{
			Type:     model.ContentLink,
			Content:  up.URL,
			Metadata: model.ContentMetadata{URL: up.URL},
		}, nil
	case model.ContentFile:
		f := up.File
		if f == nil || f.Body == nil || f.Size <= 0 {
			return model.BucketContent{}, model.Invalid("file", "is required")
		}
		if limit := s.opts.MaxFileSize; limit > 0 && f.Size > limit {
			return model.BucketContent{}, model.Invalid("file", "exceeds %d bytes", limit)
		}
		md := model.ContentMetadata{
			Filename: sanitizeFilename(f.Filename),
			Size:     f.Size,
			MimeType: f.MimeType,
		}
		if strings.HasPrefix(f.MimeType, pdfutil.MimeType) {
			if preview, err := pdfutil.Preview(f.Body, f.Size, previewLength); err != nil {
				log.Printf("pdf preview failed: %v", err)
			} else {
				md.Preview = preview
			}
		}
		return model.BucketContent{Type: model.ContentFile, Metadata: md}, nil
	default:
		return model.BucketContent{}, model.Invalid("type", "must be one of file, text, link")
	}
}

// Download is one served copy of a bucket's content. Callers must Close it
// after streaming a file body.
type Download struct {
	Code     string
	Mode     model.BucketMode
	Type     model.ContentType
	Content  string
	Metadata model.ContentMetadata
	Body     io.ReadCloser
	// Deleted is true when the bucket record is gone (single drop).
	Deleted bool

	closeFn func() error
}

// Close releases the file body and purges consumed objects.
func (d *Download) Close() error {
	if d.closeFn == nil {
		return nil
	}
	fn := d.closeFn
	d.closeFn = nil
	return fn()
}

// Download serves the bucket's content once and applies the mode's
// transition. Reads of a protected bucket need the password or owner token.
func (s *Service) Download(ctx context.Context, code string, creds authz.Credentials) (*Download, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(&b.Resource, creds, authz.Read); err != nil {
		return nil, err
	}
	if b.IsEmpty {
		return nil, model.ErrConflict
	}
	mode := b.Mode()
	claimed, err := s.store.ConsumeBucket(ctx, code, mode, s.now())
	if err != nil {
		return nil, err
	}
	d := &Download{
		Code:    code,
		Mode:    mode,
		Type:    claimed.ContentType,
		Content: claimed.Content,
		Deleted: mode == model.ModeSingleDrop,
	}
	if claimed.ContentMetadata != nil {
		d.Metadata = *claimed.ContentMetadata
	}
	if claimed.ContentType != model.ContentFile {
		return d, nil
	}
	key := d.Metadata.StoragePath
	body, err := s.content.Open(ctx, key)
	if err != nil {
		if mode != model.ModeOpen {
			s.purge(ctx, key)
		}
		return nil, fmt.Errorf("open content: %w", err)
	}
	d.Body = body
	d.closeFn = func() error {
		err := body.Close()
		if mode != model.ModeOpen {
			s.purge(context.WithoutCancel(ctx), key)
		}
		return err
	}
	return d, nil
}

// Empty drains a full bucket. It requires the owner token.
func (s *Service) Empty(ctx context.Context, code string, creds authz.Credentials) (authz.BucketView, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	if err := authz.Require(&b.Resource, creds, authz.Mutate); err != nil {
		return authz.BucketView{}, err
	}
	if b.IsEmpty {
		return authz.BucketView{}, model.ErrConflict
	}
	prev, err := s.store.EmptyBucket(ctx, code, s.now())
	if err != nil {
		return authz.BucketView{}, err
	}
	s.purgeContent(ctx, prev)
	current, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	return authz.ViewBucket(current, creds), nil
}

// Delete removes the bucket and its stored content. It requires the owner token.
func (s *Service) Delete(ctx context.Context, code string, creds authz.Credentials) error {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return err
	}
	if err := authz.Require(&b.Resource, creds, authz.Mutate); err != nil {
		return err
	}
	prev, err := s.store.DeleteBucket(ctx, code)
	if err != nil {
		return err
	}
	s.purgeContent(ctx, prev)
	return nil
}

// SetPassword sets or, with an empty password, clears the bucket password.
// It requires the owner token.
func (s *Service) SetPassword(ctx context.Context, code string, creds authz.Credentials, password string) (authz.BucketView, error) {
	b, err := s.store.GetBucket(ctx, code)
	if err != nil {
		return authz.BucketView{}, err
	}
	if err := authz.Require(&b.Resource, creds, authz.Mutate); err != nil {
		return authz.BucketView{}, err
	}
	var hash credential.PasswordHash
	if password != "" {
		h, err := credential.HashPassword(password)
		if err != nil {
			return authz.BucketView{}, err
		}
		hash = h
	}
	if err := s.store.SetBucketPassword(ctx, code, hash); err != nil {
		return authz.BucketView{}, err
	}
	b.PasswordHash = hash
	return authz.ViewBucket(b, creds), nil
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Cleared int
	Deleted int
}

// Sweep clears stale reusable content and deletes abandoned single-drop
// buckets older than the retention window.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cleared, deleted, err := s.store.SweepBuckets(ctx, now.Add(-s.opts.RetentionWindow), now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep buckets: %w", err)
	}
	for _, b := range cleared {
		s.purgeContent(ctx, b)
	}
	for _, b := range deleted {
		s.purgeContent(ctx, b)
	}
	return SweepResult{Cleared: len(cleared), Deleted: len(deleted)}, nil
}

func (s *Service) purgeContent(ctx context.Context, b *model.Bucket) {
	if b == nil || b.ContentType != model.ContentFile || b.ContentMetadata == nil {
		return
	}
	if key := b.ContentMetadata.StoragePath; key != "" {
		s.purge(ctx, key)
	}
}

func (s *Service) purge(ctx context.Context, key string) {
	var err error
	if s.purger != nil {
		err = s.purger.Purge(ctx, key)
	} else {
		err = s.content.Delete(ctx, key)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("purge object %s: %v", key, err)
	}
}

func objectKey(code, filename string) string {
	return path.Join("buckets", code, uuid.NewString(), sanitizeFilename(filename))
}

// sanitizeFilename strips directories, quotes and CR/LF so the name is safe
// in object keys and Content-Disposition headers.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "download"
	}
	return name
}
