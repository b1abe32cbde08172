package habbo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/public/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("name") {
		case "Alice":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"uniqueId":"hhus-abc","name":"Alice","motto":"hi XyZ12","online":true,"memberSince":"2010-01-01T00:00:00.000+0000","lastAccessTime":"2024-05-01T10:00:00.000+0000"}`))
		case "Broken":
			_, _ = w.Write([]byte(`{not json`))
		default:
			http.Error(w, `{"error":"not-found"}`, http.StatusNotFound)
		}
	})
	mux.HandleFunc("/api/public/users/hhus-abc/groups", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"g-10","name":"Seniors"},{"id":"g-20","name":"Juniors"},{"id":""}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchProfile(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "com", time.Second)

	p, err := c.FetchProfile(context.Background(), "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, "hhus-abc", p.UniqueID)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, "hi XyZ12", p.Motto)
	assert.True(t, p.Online)
}

func TestFetchProfileNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "com", time.Second)

	_, err := c.FetchProfile(context.Background(), "Nobody", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchProfile(context.Background(), "Broken", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchProfile(context.Background(), "  ", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchGroupsKeepsOrder(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "com", time.Second)

	ids, err := c.FetchGroups(context.Background(), "hhus-abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"g-10", "g-20"}, ids)

	_, err = c.FetchGroups(context.Background(), "hhus-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRealmTemplate(t *testing.T) {
	var host atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.Store(r.URL.Path)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	// the realm becomes a path segment so the test server can observe it
	c := NewClient(srv.URL+"/%s", "com", time.Second)
	_, err := c.FetchProfile(context.Background(), "Alice", "nl")
	require.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, strings.HasPrefix(host.Load().(string), "/nl/api/public/users"))

	_, _ = c.FetchProfile(context.Background(), "Alice", "")
	assert.True(t, strings.HasPrefix(host.Load().(string), "/com/"))
}

func TestRateLimitSpacesRequests(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "com", time.Second, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.FetchProfile(context.Background(), "Alice", "")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "com", time.Second, WithRateLimit(0.01, 1))
	_, err := c.FetchProfile(context.Background(), "Alice", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchProfile(ctx, "Alice", "")
	require.Error(t, err)
}

func TestAvatarURL(t *testing.T) {
	assert.Equal(t, "https://www.habbo.com/habbo-imaging/avatarimage?user=A+B&direction=3&head_direction=3&gesture=nor&action=wav&size=l", AvatarURL("A B"))
}
