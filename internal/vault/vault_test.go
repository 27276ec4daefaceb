package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAcrossInstances(t *testing.T) {
	store := NewFileStorage(filepath.Join(t.TempDir(), "vault.json"))
	New(store).Save("bucket", "abc123", "0123456789abcdef0123456789abcdef")

	raw, ok, err := store.Get(entryKey("bucket", "abc123"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(raw, "enc."))
	require.NotContains(t, raw, "0123456789abcdef")

	token, ok := New(store).Load("bucket", "abc123")
	require.True(t, ok)
	require.Equal(t, "0123456789abcdef0123456789abcdef", token)
}

func TestFreshNoncePerSave(t *testing.T) {
	store := NewMemoryStorage()
	v := New(store)
	v.Save("bucket", "a", "tok")
	first, _, _ := store.Get(entryKey("bucket", "a"))
	v.Save("bucket", "a", "tok")
	second, _, _ := store.Get(entryKey("bucket", "a"))
	require.NotEqual(t, first, second)
}

func TestLoadLegacyPlaintext(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(entryKey("redirect", "xyz789"), "legacytoken"))
	token, ok := New(store).Load("redirect", "xyz789")
	require.True(t, ok)
	require.Equal(t, "legacytoken", token)
}

func TestLoadMissingAndRemove(t *testing.T) {
	v := New(NewMemoryStorage())
	_, ok := v.Load("bucket", "none")
	require.False(t, ok)

	v.Save("bucket", "gone", "tok")
	v.Remove("bucket", "gone")
	_, ok = v.Load("bucket", "gone")
	require.False(t, ok)
}

func TestScopesAreSeparate(t *testing.T) {
	v := New(NewMemoryStorage())
	v.Save("bucket", "same", "bucket-token")
	v.Save("redirect", "same", "redirect-token")
	b, _ := v.Load("bucket", "same")
	r, _ := v.Load("redirect", "same")
	require.Equal(t, "bucket-token", b)
	require.Equal(t, "redirect-token", r)
}

func TestEntriesCannotOverwriteKey(t *testing.T) {
	store := NewMemoryStorage()
	v := New(store)
	v.Save("bucket", "abc123", "first-token")
	before, ok, err := store.Get(keyID)
	require.NoError(t, err)
	require.True(t, ok)

	v.Save("vault", "key", "not-a-key")
	after, _, err := store.Get(keyID)
	require.NoError(t, err)
	require.Equal(t, before, after)

	token, ok := New(store).Load("bucket", "abc123")
	require.True(t, ok)
	require.Equal(t, "first-token", token)
}

func TestCorruptKeyFallsBackToPlaintext(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(keyID, "not-base64!"))
	v := New(store)
	v.Save("bucket", "abc", "tok")

	raw, _, _ := store.Get(entryKey("bucket", "abc"))
	require.Equal(t, "tok", raw)
	token, ok := v.Load("bucket", "abc")
	require.True(t, ok)
	require.Equal(t, "tok", token)
}

func TestTamperedCiphertextLoadsNothing(t *testing.T) {
	store := NewMemoryStorage()
	v := New(store)
	v.Save("bucket", "abc", "tok")
	raw, _, _ := store.Get(entryKey("bucket", "abc"))
	require.NoError(t, store.Set(entryKey("bucket", "abc"), raw[:len(raw)-4]+"AAAA"))

	_, ok := v.Load("bucket", "abc")
	require.False(t, ok)
}

type failingStorage struct{}

func (failingStorage) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (failingStorage) Set(string, string) error         { return errors.New("disk gone") }
func (failingStorage) Delete(string) error              { return errors.New("disk gone") }

func TestStorageFailuresDoNotPanic(t *testing.T) {
	v := New(failingStorage{})
	v.Save("bucket", "a", "tok")
	_, ok := v.Load("bucket", "a")
	require.False(t, ok)
	v.Remove("bucket", "a")
}

func TestFileStoragePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.json")
	store := NewFileStorage(path)
	require.NoError(t, store.Set("k", "v"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete("k"))
	_, ok, err := store.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
}
