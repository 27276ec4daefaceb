package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

const jsonBodyLimit = 16 << 10

type credentialBody struct {
	Password   string `json:"password"`
	OwnerToken string `json:"owner_token"`
}

func (b credentialBody) credentials() authz.Credentials {
	return authz.Credentials{OwnerToken: b.OwnerToken, Password: b.Password}
}

// queryToken reads the owner token from ?token=. Passwords are never read
// from the query string.
func queryToken(r *http.Request) authz.Credentials {
	return authz.Credentials{OwnerToken: r.URL.Query().Get("token")}
}

type createBucketRequest struct {
	Mode     string `json:"mode"`
	Password string `json:"password"`
}

type createBucketResponse struct {
	Code       string           `json:"code"`
	OwnerToken string           `json:"owner_token"`
	URL        string           `json:"url"`
	Bucket     authz.BucketView `json:"bucket"`
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var req createBucketRequest
	if err := decodeJSON(w, r, &req, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.buckets.Create(r.Context(), bucket.CreateRequest{
		Mode:     model.BucketMode(req.Mode),
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	owner := authz.Credentials{OwnerToken: created.OwnerToken}
	respondJSON(w, http.StatusCreated, createBucketResponse{
		Code:       created.Bucket.Code,
		OwnerToken: created.OwnerToken,
		URL:        s.cfg.PublicURL + "/api/buckets/" + created.Bucket.Code,
		Bucket:     authz.ViewBucket(created.Bucket, owner),
	})
}

func (s *Server) handleBucketStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.buckets.Status(r.Context(), r.PathValue("code"), queryToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleUnlockBucket(w http.ResponseWriter, r *http.Request) {
	var body credentialBody
	if err := decodeJSON(w, r, &body, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.buckets.Unlock(r.Context(), r.PathValue("code"), body.credentials())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type uploadRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.handleFileUpload(w, r, code)
		return
	}
	var req uploadRequest
	if err := decodeJSON(w, r, &req, int64(s.cfg.MaxTextLength)+jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	up := bucket.Upload{Type: model.ContentType(req.Type)}
	switch up.Type {
	case model.ContentText:
		up.Text = req.Content
	case model.ContentLink:
		up.URL = req.URL
		if up.URL == "" {
			up.URL = req.Content
		}
	case model.ContentFile:
		writeError(w, model.Invalid("file", "must be sent as multipart/form-data"))
		return
	}
	view, err := s.buckets.Upload(r.Context(), code, queryToken(r), up)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, code string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, model.Invalid("file", "expecting multipart form"))
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		writeError(w, model.Invalid("file", "is required"))
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	view, err := s.buckets.Upload(r.Context(), code, queryToken(r), bucket.Upload{
		Type: model.ContentFile,
		File: &bucket.FileUpload{
			Filename: tmp.filename,
			MimeType: tmp.contentType,
			Size:     tmp.size,
			Body:     tmp.f,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp spools the part to disk so the body can be sized, sniffed and
// re-read for previews before it reaches the content store.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "qrdrop-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				discard()
				return nil, model.Invalid("file", "exceeds %d bytes", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			var tooLarge *http.MaxBytesError
			if errors.As(readErr, &tooLarge) {
				return nil, model.Invalid("file", "exceeds %d bytes", s.cfg.MaxFileSize)
			}
			return nil, model.Invalid("file", "could not be read")
		}
	}
	if written == 0 {
		discard()
		return nil, model.Invalid("file", "is empty")
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// handleDownloadQuery serves GET downloads. A protected bucket can only be
// opened this way with the owner token; passwords must come in a POST body.
func (s *Server) handleDownloadQuery(w http.ResponseWriter, r *http.Request) {
	d, err := s.buckets.Download(r.Context(), r.PathValue("code"), queryToken(r))
	if errors.Is(err, model.ErrUnauthorized) {
		err = errInsecureChannel
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, d)
}

func (s *Server) handleDownloadBody(w http.ResponseWriter, r *http.Request) {
	var body credentialBody
	if err := decodeJSON(w, r, &body, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.buckets.Download(r.Context(), r.PathValue("code"), body.credentials())
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, d)
}

type downloadResponse struct {
	Code     string                `json:"code"`
	Mode     model.BucketMode      `json:"mode"`
	Type     model.ContentType     `json:"type"`
	Content  string                `json:"content"`
	Metadata model.ContentMetadata `json:"metadata"`
	Deleted  bool                  `json:"deleted"`
}

func writeDownload(w http.ResponseWriter, d *bucket.Download) {
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("close download %s: %v", d.Code, err)
		}
	}()
	if d.Type != model.ContentFile {
		respondJSON(w, http.StatusOK, downloadResponse{
			Code:     d.Code,
			Mode:     d.Mode,
			Type:     d.Type,
			Content:  d.Content,
			Metadata: d.Metadata,
			Deleted:  d.Deleted,
		})
		return
	}
	contentType := d.Metadata.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Metadata.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "no-store")
	h.Set("X-QRDrop-Mode", string(d.Mode))
	if d.Metadata.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(d.Metadata.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, d.Body); err != nil {
		log.Printf("stream download %s: %v", d.Code, err)
	}
}

func (s *Server) handleEmptyBucket(w http.ResponseWriter, r *http.Request) {
	view, err := s.buckets.Empty(r.Context(), r.PathValue("code"), queryToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type updateBucketRequest struct {
	OwnerToken    string  `json:"owner_token"`
	Password      *string `json:"password"`
	ClearPassword bool    `json:"clear_password"`
}

func (s *Server) handleUpdateBucket(w http.ResponseWriter, r *http.Request) {
	var req updateBucketRequest
	if err := decodeJSON(w, r, &req, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	var password string
	switch {
	case req.ClearPassword:
	case req.Password != nil && *req.Password != "":
		password = *req.Password
	default:
		writeError(w, model.Invalid("password", "set password or clear_password"))
		return
	}
	creds := authz.Credentials{OwnerToken: req.OwnerToken}
	view, err := s.buckets.SetPassword(r.Context(), r.PathValue("code"), creds, password)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.buckets.Delete(r.Context(), r.PathValue("code"), queryToken(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
