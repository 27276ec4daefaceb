package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/ratelimit"
	"github.com/dharsanguruparan/qrdrop/internal/redirect"
	"github.com/dharsanguruparan/qrdrop/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		PublicURL:           "http://qr.test",
		InactiveRedirectURL: "/qr-inactive",
		MaxFileSize:         1 << 20,
		MaxTextLength:       1024,
	}
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) (http.Handler, *storage.MemoryContentStore) {
	t.Helper()
	cfg := testConfig()
	store := storage.NewMemoryStore()
	content := storage.NewMemoryContentStore()
	buckets := bucket.New(store, content, nil, bucket.Options{
		MaxFileSize:   cfg.MaxFileSize,
		MaxTextLength: cfg.MaxTextLength,
	})
	return New(cfg, buckets, redirect.New(store), limiter).Handler(), content
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createBucket(t *testing.T, h http.Handler, body map[string]string) (code, token string) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/buckets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	code, token = out["code"].(string), out["owner_token"].(string)
	require.Len(t, code, 6)
	require.NotEmpty(t, token)
	require.Equal(t, "http://qr.test/api/buckets/"+code, out["url"])
	return code, token
}

func TestProtectedSingleDropText(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createBucket(t, h, map[string]string{"password": "secure123"})

	rec := do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "text", "content": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := decode(t, do(t, h, http.MethodGet, "/api/buckets/"+code, nil))
	require.Equal(t, false, status["is_empty"])
	require.Equal(t, true, status["password_protected"])
	require.Nil(t, status["content_metadata"])

	rec = do(t, h, http.MethodGet, "/api/buckets/"+code+"/download", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/download", map[string]string{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/download", map[string]string{"password": "secure123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	require.Equal(t, "hello", out["content"])
	require.Equal(t, true, out["deleted"])

	rec = do(t, h, http.MethodGet, "/api/buckets/"+code, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryPasswordRejected(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, _ := createBucket(t, h, map[string]string{"password": "secure123"})

	for _, target := range []string{
		"/api/buckets/" + code + "/download?password=secure123",
		"/api/buckets/" + code + "?password=secure123",
		"/r/abcdef?password=x",
	} {
		rec := do(t, h, http.MethodGet, target, nil)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
	}
}

func TestOwnerTokenDownloadOverGet(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createBucket(t, h, map[string]string{"mode": "ping_pong", "password": "pw"})
	rec := do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "link", "url": "https://example.com/doc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/buckets/"+code+"/download?token="+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://example.com/doc", decode(t, rec)["content"])

	status := decode(t, do(t, h, http.MethodGet, "/api/buckets/"+code+"?token="+token, nil))
	require.Equal(t, true, status["is_empty"])
	require.Equal(t, float64(1), status["download_count"])

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/download", map[string]string{"password": "pw"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadErrors(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createBucket(t, h, nil)

	rec := do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload",
		map[string]string{"type": "text", "content": "hello"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "link", "url": "javascript:alert(1)"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "url", decode(t, rec)["field"])

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "text", "content": strings.Repeat("a", 2048)})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "text", "content": "first"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token,
		map[string]string{"type": "text", "content": "second"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/buckets", map[string]string{"mode": "forever"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "mode", decode(t, rec)["field"])
}

func multipartUpload(t *testing.T, target, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestFileUploadAndDownload(t *testing.T) {
	h, content := newTestServer(t, nil)
	code, token := createBucket(t, h, map[string]string{"mode": "open"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "/api/buckets/"+code+"/upload?token="+token, "notes.txt", "hello file"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	md := decode(t, rec)["content_metadata"].(map[string]any)
	require.Equal(t, "notes.txt", md["filename"])
	require.Equal(t, float64(10), md["size"])
	require.Contains(t, md["mimetype"], "text/plain")
	require.NotContains(t, md, "storage_path")

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodGet, "/api/buckets/"+code+"/download", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "hello file", rec.Body.String())
		require.Contains(t, rec.Header().Get("Content-Disposition"), `filename=notes.txt`)
		require.Equal(t, "open", rec.Header().Get("X-QRDrop-Mode"))
	}
	require.Equal(t, 1, content.Len())

	rec = do(t, h, http.MethodDelete, "/api/buckets/"+code+"?token="+token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Zero(t, content.Len())
}

func TestFileTooLarge(t *testing.T) {
	h, content := newTestServer(t, nil)
	code, token := createBucket(t, h, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "/api/buckets/"+code+"/upload?token="+token, "big.bin", strings.Repeat("x", 1<<20+1)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, content.Len())
}

// damagedPDF sniffs as application/pdf but its trailer dictionary cannot be
// parsed.
func damagedPDF() string {
	head := "%PDF-1.4\n%" + strings.Repeat("x", 120) + "\n"
	return head + "xref\n0 1\n0000000000 65535 f \ntrailer\n<< 42 >>\n" +
		fmt.Sprintf("startxref\n%d\n%%%%EOF\n", len(head))
}

func TestDamagedPDFUploadSkipsPreview(t *testing.T) {
	h, content := newTestServer(t, nil)
	code, token := createBucket(t, h, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "/api/buckets/"+code+"/upload?token="+token, "report.pdf", damagedPDF()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	md := decode(t, rec)["content_metadata"].(map[string]any)
	require.Equal(t, "application/pdf", md["mimetype"])
	require.NotContains(t, md, "preview")
	require.Equal(t, 1, content.Len())
}

func TestEmptyAndPassword(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createBucket(t, h, map[string]string{"mode": "open"})
	do(t, h, http.MethodPost, "/api/buckets/"+code+"/upload?token="+token, map[string]string{"type": "text", "content": "x"})

	rec := do(t, h, http.MethodPatch, "/api/buckets/"+code, map[string]any{"owner_token": token, "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["password_protected"])

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/unlock", map[string]string{"password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/unlock", map[string]string{"password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decode(t, rec)["content_metadata"])

	rec = do(t, h, http.MethodPatch, "/api/buckets/"+code, map[string]any{"owner_token": token})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPatch, "/api/buckets/"+code, map[string]any{"password": "pw2"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/empty?token="+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["is_empty"])
	rec = do(t, h, http.MethodPost, "/api/buckets/"+code+"/empty?token="+token, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func createRedirect(t *testing.T, h http.Handler, body map[string]any) (code, token string) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/redirects", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	code, token = out["code"].(string), out["owner_token"].(string)
	require.Equal(t, "http://qr.test/r/"+code, out["scan_url"])
	return code, token
}

func TestScanUntilExhausted(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createRedirect(t, h, map[string]any{"destination_url": "https://example.com/a", "max_scans": 2})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/r/"+code, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "https://example.com/a", rec.Header().Get("Location"))
	}
	rec := do(t, h, http.MethodGet, "/r/"+code, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/qr-inactive?reason=exhausted", rec.Header().Get("Location"))

	view := decode(t, do(t, h, http.MethodGet, "/api/redirects/"+code+"?token="+token, nil))
	require.Equal(t, float64(2), view["scan_count"])
	require.Equal(t, false, view["is_active"])

	rec = do(t, h, http.MethodGet, "/qr-inactive?reason=exhausted", nil)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestProtectedRedirect(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, owner := createRedirect(t, h, map[string]any{"destination_url": "https://example.com/p", "password": "letmein"})

	rec := do(t, h, http.MethodGet, "/r/"+code, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, true, decode(t, rec)["password_required"])

	rec = do(t, h, http.MethodPost, "/r/"+code, map[string]string{"password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/r/"+code, map[string]string{"password": "letmein"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://example.com/p", decode(t, rec)["url"])

	view := decode(t, do(t, h, http.MethodGet, "/api/redirects/"+code+"?token="+owner, nil))
	require.Equal(t, float64(1), view["scan_count"])
}

func TestRedirectOwnerOperations(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, token := createRedirect(t, h, map[string]any{"destination_url": "https://example.com/old"})

	public := decode(t, do(t, h, http.MethodGet, "/api/redirects/"+code, nil))
	require.Equal(t, map[string]any{"code": code, "is_active": true, "password_protected": false}, public)

	rec := do(t, h, http.MethodPatch, "/api/redirects/"+code, map[string]any{"destination_url": "https://example.com/new"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/redirects/"+code, map[string]any{"owner_token": token, "destination_url": "data:text/html,hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/redirects/"+code, map[string]any{
		"owner_token":     token,
		"destination_url": "https://example.com/new",
		"expires_at":      time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "https://example.com/new", decode(t, rec)["destination_url"])

	rec = do(t, h, http.MethodGet, "/r/"+code, nil)
	require.Equal(t, "https://example.com/new", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodPost, "/api/redirects/"+code+"/disable", map[string]string{"owner_token": token})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/r/"+code, map[string]string{})
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "inactive", decode(t, rec)["reason"])

	rec = do(t, h, http.MethodGet, "/r/nosuch", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceRouting(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, _ := createRedirect(t, h, map[string]any{
		"destination_url": "https://example.com/",
		"routing_mode":    "device",
		"routing_config":  map[string]string{"ios": "https://apps.apple.com/x"},
	})
	req := httptest.NewRequest(http.MethodGet, "/r/"+code, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://apps.apple.com/x", rec.Header().Get("Location"))
}

func TestRateLimitedCreate(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), map[ratelimit.Operation]config.RateRule{
		ratelimit.OpCreate: {Limit: 1, Window: time.Minute},
	})
	h, _ := newTestServer(t, limiter)

	createBucket(t, h, nil)
	rec := do(t, h, http.MethodPost, "/api/buckets", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{model.ErrInactive, http.StatusGone},
		{model.ErrCodeSpaceExhausted, http.StatusServiceUnavailable},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		require.Equal(t, tc.code, rec.Code)
		require.NotContains(t, rec.Body.String(), "connection refused")
	}
}

func TestMalformedCodeNotFound(t *testing.T) {
	h, _ := newTestServer(t, nil)
	for _, target := range []string{
		"/api/buckets/AB12CD",
		"/api/buckets/abc/download",
		"/api/redirects/abcdefg",
		"/r/abc-12",
	} {
		rec := do(t, h, http.MethodGet, target, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, target)
		require.Equal(t, "not found", decode(t, rec)["error"], target)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, nil)
	rec := do(t, h, http.MethodOptions, "/api/buckets", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
