package redirect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/storage"
)

func intPtr(n int) *int { return &n }

func TestMaxScansGoesTerminal(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := New(store)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com", MaxScans: intPtr(3)})
	require.NoError(t, err)
	code := created.Redirect.Code

	for i := 1; i <= 3; i++ {
		res, err := svc.Resolve(ctx, code, Scan{})
		require.NoError(t, err)
		require.Equal(t, Redirected, res.Outcome)
		require.Equal(t, "https://example.com", res.URL)
		require.Equal(t, i, res.ScanCount)
	}

	res, err := svc.Resolve(ctx, code, Scan{})
	require.NoError(t, err)
	require.Equal(t, Exhausted, res.Outcome)
	require.Empty(t, res.URL)

	r, err := store.GetRedirect(ctx, code)
	require.NoError(t, err)
	require.Equal(t, 3, r.ScanCount)
	require.False(t, r.IsActive)

	res, err = svc.Resolve(ctx, code, Scan{})
	require.NoError(t, err)
	require.Equal(t, Inactive, res.Outcome)
}

func TestExpiredRedirect(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := New(store)
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(time.Minute)

	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com", ExpiresAt: &expires})
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(2 * time.Minute) }
	res, err := svc.Resolve(ctx, created.Redirect.Code, Scan{})
	require.NoError(t, err)
	require.Equal(t, Expired, res.Outcome)
	require.Zero(t, res.ScanCount)
}

func TestCreateValidation(t *testing.T) {
	svc := New(storage.NewMemoryStore())
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	cases := []CreateRequest{
		{DestinationURL: "javascript:alert(1)"},
		{DestinationURL: "data:text/html,hi"},
		{DestinationURL: "/relative"},
		{DestinationURL: "https://example.com", MaxScans: intPtr(0)},
		{DestinationURL: "https://example.com", ExpiresAt: &past},
		{DestinationURL: "https://example.com", RoutingMode: "random"},
		{DestinationURL: "https://example.com", RoutingMode: model.RoutingSequential},
		{DestinationURL: "https://example.com", RoutingMode: model.RoutingSequential,
			RoutingConfig: &model.RoutingConfig{URLs: []string{"https://a.example", "javascript:x"}}},
	}
	for _, req := range cases {
		_, err := svc.Create(ctx, req)
		require.True(t, model.IsValidation(err), "%+v: %v", req, err)
	}
}

func TestUpdate(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := New(store)
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com"})
	require.NoError(t, err)
	code := created.Redirect.Code
	creds := authz.Credentials{OwnerToken: created.OwnerToken}

	bad := "javascript:alert(1)"
	_, err = svc.Update(ctx, code, creds, Update{DestinationURL: &bad})
	require.True(t, model.IsValidation(err))

	next := "https://example.org/new"
	_, err = svc.Update(ctx, code, authz.Credentials{}, Update{DestinationURL: &next})
	require.ErrorIs(t, err, model.ErrForbidden)

	view, err := svc.Update(ctx, code, creds, Update{DestinationURL: &next, MaxScans: intPtr(5)})
	require.NoError(t, err)
	require.Equal(t, next, view.DestinationURL)
	require.Equal(t, 5, *view.MaxScans)

	res, err := svc.Resolve(ctx, code, Scan{})
	require.NoError(t, err)
	require.Equal(t, next, res.URL)

	view, err = svc.Update(ctx, code, creds, Update{ClearMaxScans: true})
	require.NoError(t, err)
	require.Nil(t, view.MaxScans)
	require.Equal(t, 1, view.ScanCount)
}

func TestDisable(t *testing.T) {
	svc := New(storage.NewMemoryStore())
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com"})
	require.NoError(t, err)
	code := created.Redirect.Code

	require.ErrorIs(t, svc.Disable(ctx, code, authz.Credentials{}), model.ErrForbidden)
	require.NoError(t, svc.Disable(ctx, code, authz.Credentials{OwnerToken: created.OwnerToken}))

	res, err := svc.Resolve(ctx, code, Scan{})
	require.NoError(t, err)
	require.Equal(t, Inactive, res.Outcome)
}

// disablingStore turns the redirect off right after each read, the way a
// concurrent Disable landing between an edit's read and write would.
type disablingStore struct {
	*storage.MemoryStore
}

func (d disablingStore) GetRedirect(ctx context.Context, code string) (*model.Redirect, error) {
	r, err := d.MemoryStore.GetRedirect(ctx, code)
	if err == nil {
		err = d.MemoryStore.Deactivate(ctx, code)
	}
	return r, err
}

func TestUpdateKeepsConcurrentDisable(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	created, err := New(store).Create(ctx, CreateRequest{DestinationURL: "https://example.com"})
	require.NoError(t, err)
	code := created.Redirect.Code
	creds := authz.Credentials{OwnerToken: created.OwnerToken}

	svc := New(disablingStore{store})
	next := "https://example.org/new"
	view, err := svc.Update(ctx, code, creds, Update{DestinationURL: &next})
	require.NoError(t, err)
	require.False(t, view.IsActive)
	require.Equal(t, next, view.DestinationURL)

	r, err := store.GetRedirect(ctx, code)
	require.NoError(t, err)
	require.False(t, r.IsActive)

	active := true
	view, err = New(store).Update(ctx, code, creds, Update{IsActive: &active})
	require.NoError(t, err)
	require.True(t, view.IsActive)
}

func TestPasswordProtectedRedirect(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := New(store)
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com", Password: "letmein"})
	require.NoError(t, err)
	code := created.Redirect.Code

	_, err = svc.Resolve(ctx, code, Scan{})
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = svc.Resolve(ctx, code, Scan{Credentials: authz.Credentials{Password: "nope"}})
	require.ErrorIs(t, err, model.ErrUnauthorized)

	r, err := store.GetRedirect(ctx, code)
	require.NoError(t, err)
	require.Zero(t, r.ScanCount)

	res, err := svc.Resolve(ctx, code, Scan{Credentials: authz.Credentials{Password: "letmein"}})
	require.NoError(t, err)
	require.Equal(t, Redirected, res.Outcome)
	require.Equal(t, 1, res.ScanCount)
}

func TestGetViews(t *testing.T) {
	svc := New(storage.NewMemoryStore())
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateRequest{DestinationURL: "https://example.com"})
	require.NoError(t, err)

	v, err := svc.Get(ctx, created.Redirect.Code, authz.Credentials{})
	require.NoError(t, err)
	require.IsType(t, authz.PublicRedirectView{}, v)

	v, err = svc.Get(ctx, created.Redirect.Code, authz.Credentials{OwnerToken: created.OwnerToken})
	require.NoError(t, err)
	require.IsType(t, authz.RedirectView{}, v)
	require.Equal(t, model.RoutingSimple, v.(authz.RedirectView).RoutingMode)
}

func TestSequentialRouting(t *testing.T) {
	svc := New(storage.NewMemoryStore())
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateRequest{
		DestinationURL: "https://fallback.example",
		RoutingMode:    model.RoutingSequential,
		RoutingConfig:  &model.RoutingConfig{URLs: []string{"https://a.example", "https://b.example"}},
	})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		res, err := svc.Resolve(ctx, created.Redirect.Code, Scan{})
		require.NoError(t, err)
		got = append(got, res.URL)
	}
	require.Equal(t, []string{"https://a.example", "https://b.example", "https://a.example"}, got)
}

func TestDeviceRouting(t *testing.T) {
	r := &model.Redirect{
		DestinationURL: "https://fallback.example",
		RoutingMode:    model.RoutingDevice,
		RoutingConfig:  &model.RoutingConfig{IOS: "https://apple.example", Android: "https://play.example"},
	}
	now := time.Now()
	require.Equal(t, "https://apple.example", destination(r, 1, "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", now))
	require.Equal(t, "https://play.example", destination(r, 1, "Mozilla/5.0 (Linux; Android 14)", now))
	require.Equal(t, "https://fallback.example", destination(r, 1, "Mozilla/5.0 (X11; Linux x86_64)", now))
}

func TestTimeRouting(t *testing.T) {
	r := &model.Redirect{
		DestinationURL: "https://fallback.example",
		RoutingMode:    model.RoutingTime,
		RoutingConfig: &model.RoutingConfig{Rules: []model.TimeRule{
			{Start: "09:00", End: "17:00", URL: "https://day.example"},
			{Start: "22:00", End: "06:00", URL: "https://night.example"},
		}},
	}
	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }
	require.Equal(t, "https://day.example", destination(r, 1, "", at(9, 0)))
	require.Equal(t, "https://fallback.example", destination(r, 1, "", at(17, 0)))
	require.Equal(t, "https://night.example", destination(r, 1, "", at(23, 30)))
	require.Equal(t, "https://night.example", destination(r, 1, "", at(5, 59)))
	require.Equal(t, "https://fallback.example", destination(r, 1, "", at(20, 0)))
}

func TestValidateRoutingRejectsBadClock(t *testing.T) {
	err := validateRouting(model.RoutingTime, &model.RoutingConfig{Rules: []model.TimeRule{
		{Start: "25:00", End: "06:00", URL: "https://x.example"},
	}})
	require.True(t, model.IsValidation(err))

	err = validateRouting(model.RoutingTime, &model.RoutingConfig{
		Rules:    []model.TimeRule{{Start: "01:00", End: "02:00", URL: "https://x.example"}},
		Timezone: "Mars/Olympus",
	})
	require.True(t, model.IsValidation(err))
}
