package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeIdP serves a token endpoint and a profile endpoint.
func fakeIdP(t *testing.T, extra map[string]any, profile any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{"access_token": "at-123", "token_type": "Bearer", "expires_in": 3600}
		for k, v := range extra {
			body[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		ClientID:     "client-1",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/authorize",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL: srv.URL + "/me",
		HTTPClient: srv.Client(),
	}
}

func TestGoogleResolveProfile(t *testing.T) {
	srv := fakeIdP(t, nil, map[string]any{
		"id": "g-1", "email": "new@x.com", "verified_email": true,
		"name": "New User", "given_name": "New", "family_name": "User",
	})
	p := NewGoogle(testConfig(srv))

	authURL := p.AuthURL("st")
	assert.True(t, strings.HasPrefix(authURL, srv.URL+"/authorize"))
	assert.Contains(t, authURL, "state=st")

	prof, err := p.ResolveProfile(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Profile{
		Provider: ProviderGoogle, ProviderUserID: "g-1", Email: "new@x.com", EmailVerified: true,
		FullName: "New User", FirstName: "New", LastName: "User",
	}, prof)

	_, err = p.ResolveProfile(context.Background(), "bad-code")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestMicrosoftFallsBackToPrincipalName(t *testing.T) {
	srv := fakeIdP(t, nil, map[string]any{
		"id": "m-1", "displayName": "Ms User", "userPrincipalName": "ms@corp.example",
	})
	prof, err := NewMicrosoft(testConfig(srv), "").ResolveProfile(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "ms@corp.example", prof.Email)
	assert.Equal(t, "Ms User", prof.FullName)
}

func TestFacebookResolveProfile(t *testing.T) {
	srv := fakeIdP(t, nil, map[string]any{"id": "f-1", "name": "Fb User", "email": "fb@x.com"})
	prof, err := NewFacebook(testConfig(srv)).ResolveProfile(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, ProviderFacebook, prof.Provider)
	assert.Equal(t, "fb@x.com", prof.Email)
}

func TestAppleReadsIDToken(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a-1", "aud": "client-1", "email": "apple@x.com", "email_verified": "true",
	}).SignedString([]byte("apple-side-key"))
	require.NoError(t, err)
	srv := fakeIdP(t, map[string]any{"id_token": idToken}, nil)

	prof, err := NewApple(testConfig(srv)).ResolveProfile(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "a-1", prof.ProviderUserID)
	assert.Equal(t, "apple@x.com", prof.Email)
	assert.True(t, prof.EmailVerified)

	first, last := AppleUserName(url.Values{"user": {`{"name":{"firstName":"Ann","lastName":"Apple"}}`}})
	assert.Equal(t, "Ann", first)
	assert.Equal(t, "Apple", last)
}

func TestAppleRejectsForeignAudience(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a-1", "aud": "someone-else", "email": "apple@x.com",
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	srv := fakeIdP(t, map[string]any{"id_token": idToken}, nil)
	_, err = NewApple(testConfig(srv)).ResolveProfile(context.Background(), "good-code")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewGoogle(Config{ClientID: "a"}), NewFacebook(Config{ClientID: "b"}))
	assert.Equal(t, []string{ProviderFacebook, ProviderGoogle}, r.Names())
	p, err := r.Get("Google")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, p.Name())
	_, err = r.Get("apple")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRedisStateStoreConsumesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStateStore(client)
	ctx := context.Background()

	state, err := NewState()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, state, ProviderGoogle, time.Minute))
	require.Error(t, store.Save(ctx, state, ProviderGoogle, time.Minute))

	provider, err := store.Consume(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, provider)

	_, err = store.Consume(ctx, state)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRedisStateStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", ProviderApple, time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err := store.Consume(ctx, "s1")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMemoryStateStore(t *testing.T) {
	now := time.Now()
	store := NewMemoryStateStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", ProviderGoogle, time.Minute))
	require.NoError(t, store.Save(ctx, "s2", ProviderGoogle, time.Minute))
	p, err := store.Consume(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, p)
	_, err = store.Consume(ctx, "s1")
	require.True(t, errors.Is(err, ErrInvalidState))

	now = now.Add(2 * time.Minute)
	_, err = store.Consume(ctx, "s2")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), ConnectTimeout: time.Second, RetryAttempts: 1})
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), RedisConfig{URL: "::bad::"})
	require.Error(t, err)
}
