package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/qrdrop/internal/api"
	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/redirect"
	"github.com/dharsanguruparan/qrdrop/internal/storage"
)

var codeLine = regexp.MustCompile(`code: (\w{6})`)

type harness struct {
	t         *testing.T
	serverURL string
	vaultPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{PublicURL: "http://qr.test", InactiveRedirectURL: "/qr-inactive", MaxFileSize: 1 << 20, MaxTextLength: 1024}
	store := storage.NewMemoryStore()
	buckets := bucket.New(store, storage.NewMemoryContentStore(), nil, bucket.Options{MaxFileSize: cfg.MaxFileSize, MaxTextLength: cfg.MaxTextLength})
	srv := httptest.NewServer(api.New(cfg, buckets, redirect.New(store), nil).Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, serverURL: srv.URL, vaultPath: filepath.Join(t.TempDir(), "vault.json")}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--server", h.serverURL, "--vault", h.vaultPath}, args...))
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func TestSingleDropForgetsToken(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("bucket", "create", "--password", "secure123")
	m := codeLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	code := m[1]

	token := h.mustRun("token", "show", "bucket", code)
	require.NotEmpty(t, token)

	h.mustRun("bucket", "upload", code, "--text", "hello")
	_, err := h.run("bucket", "download", code, "--password", "wrong")
	require.Error(t, err)

	out = h.mustRun("bucket", "download", code, "--password", "secure123")
	require.Equal(t, "hello\n", out)

	_, err = h.run("token", "show", "bucket", code)
	require.Error(t, err)
}

func TestFileDownloadToDisk(t *testing.T) {
	h := newHarness(t)
	code := codeLine.FindStringSubmatch(h.mustRun("bucket", "create", "--mode", "open"))[1]

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("file body"), 0o600))
	h.mustRun("bucket", "upload", code, "--file", src)

	dst := filepath.Join(t.TempDir(), "copy.txt")
	out := h.mustRun("bucket", "download", code, "-o", dst)
	require.Contains(t, out, "saved")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "file body", string(data))

	h.mustRun("bucket", "delete", code)
	_, err = h.run("token", "show", "bucket", code)
	require.Error(t, err)
}

func TestRedirectCommands(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("redirect", "create", "https://example.com/a", "--max-scans", "3")
	require.Contains(t, out, "/r/")
	code := codeLine.FindStringSubmatch(out)[1]

	out = h.mustRun("redirect", "update", code, "--url", "https://example.com/b", "--clear-max-scans")
	require.Contains(t, out, `"destination_url": "https://example.com/b"`)
	require.Contains(t, out, `"max_scans": null`)

	h.mustRun("redirect", "disable", code)
	out = h.mustRun("redirect", "show", code)
	require.Contains(t, out, `"is_active": false`)

	h.mustRun("token", "forget", "redirect", code)
	out = h.mustRun("redirect", "show", code)
	require.NotContains(t, out, "destination_url")

	_, err := h.run("token", "show", "nope", code)
	require.Error(t, err)
}
