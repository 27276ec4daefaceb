package authz

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

func newResource(t *testing.T, password string) (*model.Resource, string) {
	t.Helper()
	token := credential.NewOwnerToken()
	res := &model.Resource{Code: "abc123", OwnerTokenHash: credential.HashOwnerToken(token)}
	if password != "" {
		h, err := credential.HashPassword(password)
		require.NoError(t, err)
		res.PasswordHash = h
	}
	return res, token
}

func TestMutateRequiresOwnerToken(t *testing.T) {
	res, token := newResource(t, "secure123")

	require.Equal(t, Authorized, Check(res, Credentials{OwnerToken: token}, Mutate))
	require.Equal(t, Denied, Check(res, Credentials{}, Mutate))
	require.Equal(t, Denied, Check(res, Credentials{Password: "secure123"}, Mutate))
	require.Equal(t, Denied, Check(res, Credentials{OwnerToken: credential.NewOwnerToken()}, Mutate))
	require.ErrorIs(t, Require(res, Credentials{Password: "secure123"}, Mutate), model.ErrForbidden)
}

func TestReadOnProtectedResource(t *testing.T) {
	res, token := newResource(t, "secure123")

	require.Equal(t, Authorized, Check(res, Credentials{Password: "secure123"}, Read))
	require.Equal(t, Authorized, Check(res, Credentials{OwnerToken: token}, Read))
	require.Equal(t, Authorized, Check(res, Credentials{OwnerToken: token, Password: "wrong"}, Read))
	require.Equal(t, Denied, Check(res, Credentials{Password: "secure124"}, Read))
	require.Equal(t, Denied, Check(res, Credentials{}, Read))
	require.ErrorIs(t, Require(res, Credentials{}, Read), model.ErrUnauthorized)
}

func TestReadOnOpenResource(t *testing.T) {
	res, _ := newResource(t, "")
	require.Equal(t, Authorized, Check(res, Credentials{}, Read))
	require.NoError(t, Require(res, Credentials{}, Read))
}

func TestLegacyOwnerTokenStillAuthorizes(t *testing.T) {
	token := credential.NewOwnerToken()
	stored, err := credential.ParseOwnerTokenHash(token)
	require.NoError(t, err)
	res := &model.Resource{Code: "abc123", OwnerTokenHash: stored}
	require.True(t, IsOwner(res, Credentials{OwnerToken: token}))
}

func TestViewBucketRedactsLockedMetadata(t *testing.T) {
	res, token := newResource(t, "secure123")
	filled := time.Now()
	b := &model.Bucket{
		Resource:    *res,
		IsReusable:  true,
		ContentType: model.ContentFile,
		ContentMetadata: &model.ContentMetadata{
			Filename:    "report.pdf",
			Size:        2048,
			MimeType:    "application/pdf",
			StoragePath: "buckets/abc123/report.pdf",
		},
		FilledAt: &filled,
	}

	locked := ViewBucket(b, Credentials{})
	require.Nil(t, locked.ContentMetadata)
	require.Nil(t, locked.ContentType)
	require.True(t, locked.PasswordProtected)
	require.False(t, locked.IsEmpty)

	raw, err := json.Marshal(locked)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "content_metadata")
	require.Nil(t, decoded["content_metadata"])
	require.Contains(t, decoded, "content_type")
	require.Nil(t, decoded["content_type"])
	require.Equal(t, true, decoded["is_reusable"])

	for _, creds := range []Credentials{{Password: "secure123"}, {OwnerToken: token}} {
		full := ViewBucket(b, creds)
		require.NotNil(t, full.ContentMetadata)
		require.Equal(t, "report.pdf", full.ContentMetadata.Filename)
		require.Equal(t, model.ContentFile, *full.ContentType)
	}

	raw, err = json.Marshal(ViewBucket(b, Credentials{OwnerToken: token}))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "buckets/abc123")
}

func TestViewBucketUnprotectedDisclosesMetadata(t *testing.T) {
	res, _ := newResource(t, "")
	b := &model.Bucket{
		Resource:        *res,
		ContentType:     model.ContentText,
		ContentMetadata: &model.ContentMetadata{Length: 5, Preview: "hello"},
	}
	v := ViewBucket(b, Credentials{})
	require.NotNil(t, v.ContentMetadata)
	require.Equal(t, model.ContentText, *v.ContentType)
	require.Equal(t, model.ModeSingleDrop, v.Mode)
}

func TestViewRedirect(t *testing.T) {
	res, token := newResource(t, "")
	r := &model.Redirect{Resource: *res, DestinationURL: "https://example.com", IsActive: true}

	public, ok := ViewRedirect(r, Credentials{}).(PublicRedirectView)
	require.True(t, ok)
	require.True(t, public.IsActive)

	owner, ok := ViewRedirect(r, Credentials{OwnerToken: token}).(RedirectView)
	require.True(t, ok)
	require.Equal(t, "https://example.com", owner.DestinationURL)
	require.Equal(t, model.RoutingSimple, owner.RoutingMode)
}
