package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"archive_server/pkg/apperr"
	"archive_server/pkg/cache"
	"archive_server/pkg/logger"
)

func newTestClient(server *httptest.Server) *Client {
	cfg := Config{Server: server.URL, User: "restadmin", Password: "restpass"}
	return NewClient(cfg, server.Client(), cache.NewMemoryCache(), logger.Nop())
}

func TestResolve_KnownUser(t *testing.T) {
	var gotPath, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		w.Write([]byte(`{"user_id": 42}`))
	}))
	defer server.Close()

	userID, err := newTestClient(server).Resolve(context.Background(), "dave@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if userID != "00000000-0000-0000-0000-00000000002a" {
		t.Errorf("userID = %q", userID)
	}
	if gotPath != "/3.0/users/dave@example.com" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "restadmin" {
		t.Errorf("basic auth user = %q", gotUser)
	}
}

func TestResolve_NotFoundIsCached(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server)
	for i := 0; i < 3; i++ {
		userID, err := client.Resolve(context.Background(), "gone@example.com")
		if err != nil || userID != "" {
			t.Fatalf("Resolve = (%q, %v), want empty", userID, err)
		}
	}
	if calls != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}

func TestResolve_ConnectionErrorNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(server)
	server.Close() // every request now fails at dial time

	_, err := client.Resolve(context.Background(), "dave@example.com")
	if !errors.Is(err, apperr.ErrIdentityDown) {
		t.Fatalf("Resolve against dead server = %v, want IDENTITY_UNAVAILABLE", err)
	}
	if _, missing, _ := client.cache.Get(context.Background(), missingKey("dave@example.com")); missing {
		t.Error("connection failure was cached as missing")
	}
}

func TestResolve_ServerErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server).Resolve(context.Background(), "dave@example.com")
	if !errors.Is(err, apperr.ErrIdentityDown) {
		t.Errorf("Resolve on 500 = %v, want IDENTITY_UNAVAILABLE", err)
	}
}

func TestUUIDFromInt(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "00000000-0000-0000-0000-000000000000"},
		{1, "00000000-0000-0000-0000-000000000001"},
		{42, "00000000-0000-0000-0000-00000000002a"},
		{1 << 32, "00000000-0000-0000-0000-000100000000"},
	}
	for _, c := range cases {
		if got := UUIDFromInt(c.in); got != c.want {
			t.Errorf("UUIDFromInt(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
