// Package identity resolves sender addresses against the external identity
// REST server.
package identity

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
)

// missingKey marks addresses the identity server answered 404 for. Cached
// without expiry; departed members are not re-queried on every message.
func missingKey(address string) string {
	return "identity:missing:" + address
}

// Config points the client at the identity server's 3.0 REST root.
type Config struct {
	Server   string // base URL, without the /3.0 suffix
	User     string
	Password string
	Timeout  time.Duration // per-call, default 30s
}

// Client is the process-wide identity resolver. A circuit breaker guards
// the upstream so a dead identity server cannot slow every ingestion down.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   out.Cache
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, cache out.Cache, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "identity",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return &Client{cfg: cfg, http: httpClient, cache: cache, breaker: breaker, log: log}
}

type userResponse struct {
	UserID int64 `json:"user_id"`
}

// Resolve maps an address to its identity UUID. "" with a nil error means
// the server does not know the address; that answer is cached. Connection
// errors and an open breaker surface as IDENTITY_UNAVAILABLE so callers
// can retry on a later event.
func (c *Client) Resolve(ctx context.Context, address string) (string, error) {
	if _, missing, _ := c.cache.Get(ctx, missingKey(address)); missing {
		return "", nil
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.lookup(ctx, address)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "", apperr.ErrIdentityDown.WithError(err)
	}
	if err != nil {
		return "", err
	}
	userID := result.(string)
	if userID == "" {
		if err := c.cache.Set(ctx, missingKey(address), "1", 0); err != nil {
			c.log.Warn().Err(err).Str("address", address).Msg("caching missing identity failed")
		}
	}
	return userID, nil
}

func (c *Client) lookup(ctx context.Context, address string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/3.0/users/%s", c.cfg.Server, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.ErrIdentityDown.WithError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode >= 500:
		return "", apperr.ErrIdentityDown.WithDetail("status", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity server: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.ErrIdentityDown.WithError(err)
	}
	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("identity server: decode response: %w", err)
	}
	return UUIDFromInt(user.UserID), nil
}

// UUIDFromInt renders the server's integer user id as a UUID, the integer
// taken as the 128-bit big-endian value.
func UUIDFromInt(n int64) string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[8:], uint64(n))
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return ""
	}
	return u.String()
}

var _ out.IdentityResolver = (*Client)(nil)
