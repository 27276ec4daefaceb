// Package client talks to the QRDrop HTTP API on behalf of the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// APIError is a non-2xx response.
type APIError struct {
	Status     int
	Message    string
	Field      string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s (%d, field %s)", msg, e.Status, e.Field)
	}
	return fmt.Sprintf("%s (%d)", msg, e.Status)
}

// StatusIs reports whether err is an APIError with the given status.
func StatusIs(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is a thin JSON client. It never sends passwords in URLs.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for baseURL. A nil hc uses a client with a 30s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}
}

// CreatedBucket is the one-time create response.
type CreatedBucket struct {
	Code       string           `json:"code"`
	OwnerToken string           `json:"owner_token"`
	URL        string           `json:"url"`
	Bucket     authz.BucketView `json:"bucket"`
}

// CreateBucket creates a bucket in mode, optionally password protected.
func (c *Client) CreateBucket(ctx context.Context, mode model.BucketMode, password string) (*CreatedBucket, error) {
	var out CreatedBucket
	body := map[string]string{"mode": string(mode), "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/buckets", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BucketStatus fetches the bucket view. Metadata is redacted without a valid token.
func (c *Client) BucketStatus(ctx context.Context, code, token string) (*authz.BucketView, error) {
	var out authz.BucketView
	if err := c.doJSON(ctx, http.MethodGet, bucketPath(code), tokenQuery(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnlockBucket fetches the full view using a password.
func (c *Client) UnlockBucket(ctx context.Context, code, password string) (*authz.BucketView, error) {
	var out authz.BucketView
	body := map[string]string{"password": password}
	if err := c.doJSON(ctx, http.MethodPost, bucketPath(code)+"/unlock", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadText fills the bucket with text.
func (c *Client) UploadText(ctx context.Context, code, token, text string) (*authz.BucketView, error) {
	return c.uploadJSON(ctx, code, token, map[string]string{"type": string(model.ContentText), "content": text})
}

// UploadLink fills the bucket with a link.
func (c *Client) UploadLink(ctx context.Context, code, token, link string) (*authz.BucketView, error) {
	return c.uploadJSON(ctx, code, token, map[string]string{"type": string(model.ContentLink), "url": link})
}

func (c *Client) uploadJSON(ctx context.Context, code, token string, body map[string]string) (*authz.BucketView, error) {
	var out authz.BucketView
	if err := c.doJSON(ctx, http.MethodPost, bucketPath(code)+"/upload", tokenQuery(token), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile streams r as a multipart file named filename.
func (c *Client) UploadFile(ctx context.Context, code, token, filename string, r io.Reader) (*authz.BucketView, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	req, err := c.newRequest(ctx, http.MethodPost, bucketPath(code)+"/upload", tokenQuery(token), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()
	var out authz.BucketView
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download is a served bucket copy. Body is set for files and must be closed.
type Download struct {
	Code     string                `json:"code"`
	Mode     model.BucketMode      `json:"mode"`
	Type     model.ContentType     `json:"type"`
	Content  string                `json:"content"`
	Metadata model.ContentMetadata `json:"metadata"`
	Deleted  bool                  `json:"deleted"`
	Filename string                `json:"-"`
	Body     io.ReadCloser         `json:"-"`
}

// Download fetches the content with a password or owner token in the body.
func (c *Client) Download(ctx context.Context, code, token, password string) (*Download, error) {
	body, err := json.Marshal(map[string]string{"owner_token": token, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, bucketPath(code)+"/download", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || mediaType == "application/json" {
		defer resp.Body.Close()
		var out Download
		if err := decodeResponse(resp, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	d := &Download{
		Code: code,
		Type: model.ContentFile,
		Mode: model.BucketMode(resp.Header.Get("X-QRDrop-Mode")),
		Body: resp.Body,
	}
	d.Deleted = d.Mode == model.ModeSingleDrop
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	d.Metadata = model.ContentMetadata{Filename: d.Filename, MimeType: mediaType, Size: resp.ContentLength}
	return d, nil
}

// EmptyBucket drains a full bucket.
func (c *Client) EmptyBucket(ctx context.Context, code, token string) (*authz.BucketView, error) {
	var out authz.BucketView
	if err := c.doJSON(ctx, http.MethodPost, bucketPath(code)+"/empty", tokenQuery(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetBucketPassword sets password, or clears it when password is empty.
func (c *Client) SetBucketPassword(ctx context.Context, code, token, password string) (*authz.BucketView, error) {
	body := map[string]any{"owner_token": token}
	if password == "" {
		body["clear_password"] = true
	} else {
		body["password"] = password
	}
	var out authz.BucketView
	if err := c.doJSON(ctx, http.MethodPatch, bucketPath(code), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteBucket removes the bucket.
func (c *Client) DeleteBucket(ctx context.Context, code, token string) error {
	return c.doJSON(ctx, http.MethodDelete, bucketPath(code), tokenQuery(token), nil, nil)
}

// CreateRedirectRequest mirrors the create body.
type CreateRedirectRequest struct {
	DestinationURL string               `json:"destination_url"`
	MaxScans       *int                 `json:"max_scans,omitempty"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
	RoutingMode    model.RoutingMode    `json:"routing_mode,omitempty"`
	RoutingConfig  *model.RoutingConfig `json:"routing_config,omitempty"`
	Password       string               `json:"password,omitempty"`
}

// CreatedRedirect is the one-time create response.
type CreatedRedirect struct {
	Code       string             `json:"code"`
	OwnerToken string             `json:"owner_token"`
	ScanURL    string             `json:"scan_url"`
	Redirect   authz.RedirectView `json:"redirect"`
}

// CreateRedirect creates a dynamic redirect.
func (c *Client) CreateRedirect(ctx context.Context, req CreateRedirectRequest) (*CreatedRedirect, error) {
	var out CreatedRedirect
	if err := c.doJSON(ctx, http.MethodPost, "/api/redirects", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRedirect returns the raw view, which is the full owner view only when
// token is valid.
func (c *Client) GetRedirect(ctx context.Context, code, token string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, redirectPath(code), tokenQuery(token), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RedirectUpdate is a partial edit; nil fields are left alone.
type RedirectUpdate struct {
	OwnerToken         string               `json:"owner_token"`
	DestinationURL     *string              `json:"destination_url,omitempty"`
	RoutingMode        *string              `json:"routing_mode,omitempty"`
	RoutingConfig      *model.RoutingConfig `json:"routing_config,omitempty"`
	ClearRoutingConfig bool                 `json:"clear_routing_config,omitempty"`
	MaxScans           *int                 `json:"max_scans,omitempty"`
	ClearMaxScans      bool                 `json:"clear_max_scans,omitempty"`
	ExpiresAt          *time.Time           `json:"expires_at,omitempty"`
	ClearExpiresAt     bool                 `json:"clear_expires_at,omitempty"`
	IsActive           *bool                `json:"is_active,omitempty"`
	Password           *string              `json:"password,omitempty"`
	ClearPassword      bool                 `json:"clear_password,omitempty"`
}

// UpdateRedirect applies u.
func (c *Client) UpdateRedirect(ctx context.Context, code string, u RedirectUpdate) (*authz.RedirectView, error) {
	var out authz.RedirectView
	if err := c.doJSON(ctx, http.MethodPatch, redirectPath(code), nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableRedirect turns the redirect off.
func (c *Client) DisableRedirect(ctx context.Context, code, token string) error {
	body := map[string]string{"owner_token": token}
	return c.doJSON(ctx, http.MethodPost, redirectPath(code)+"/disable", nil, body, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error            string `json:"error"`
			Field            string `json:"field"`
			PasswordRequired bool   `json:"password_required"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
			apiErr.Message, apiErr.Field = body.Error, body.Field
			if body.PasswordRequired {
				apiErr.Message = "password required"
			}
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func tokenQuery(token string) url.Values {
	if token == "" {
		return nil
	}
	return url.Values{"token": {token}}
}

func bucketPath(code string) string {
	return "/api/buckets/" + url.PathEscape(code)
}

func redirectPath(code string) string {
	return "/api/redirects/" + url.PathEscape(code)
}
