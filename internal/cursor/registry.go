package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castbridge/castbridge/internal/store"
)

// ErrExpired is returned when a short token is unknown, already consumed
// or past its TTL. Callers use it to tell the user to restart pagination
// instead of silently failing.
var ErrExpired = errors.New("cursor token expired")

// QueryKind names the paginated query a token belongs to.
type QueryKind string

const (
	KindFeed          QueryKind = "feed"
	KindNotifications QueryKind = "notifications"
)

// Context is everything needed to reissue the query a cursor continues:
// the subject FID, which query, and any type filters.
type Context struct {
	FID   uint64    `json:"fid"`
	Kind  QueryKind `json:"kind"`
	Types []string  `json:"types,omitempty"`
}

type entry struct {
	Cursor  string  `json:"cursor"`
	Context Context `json:"context"`
}

// Registry maps unbounded opaque API cursors to short tokens that fit a
// callback payload. Tokens are minted from the uuid space; a collision
// among live tokens overwrites (last writer wins), which is acceptable
// because the protocol only needs resolve-shortly-after-issue to return
// the right value.
type Registry struct {
	kv  store.KV
	ttl time.Duration
}

// NewRegistry creates a registry with the given token TTL.
// A zero ttl means tokens never expire.
func NewRegistry(kv store.KV, ttl time.Duration) *Registry {
	return &Registry{kv: kv, ttl: ttl}
}

func tokenKey(shortID string) string {
	return "cursor:" + shortID
}

// Issue stores an opaque cursor with its query context and returns the
// short token to embed in a button payload.
func (r *Registry) Issue(ctx context.Context, opaque string, qctx Context) (string, error) {
	shortID := uuid.NewString()

	data, err := json.Marshal(entry{Cursor: opaque, Context: qctx})
	if err != nil {
		return "", fmt.Errorf("marshal cursor entry: %w", err)
	}
	if err := r.kv.Set(ctx, tokenKey(shortID), data, r.ttl); err != nil {
		return "", fmt.Errorf("issue cursor token: %w", err)
	}
	return shortID, nil
}

// Resolve returns the opaque cursor and query context for a short token.
// Returns ErrExpired if the token is unknown or past its TTL.
func (r *Registry) Resolve(ctx context.Context, shortID string) (string, Context, error) {
	data, err := r.kv.Get(ctx, tokenKey(shortID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", Context{}, ErrExpired
		}
		return "", Context{}, fmt.Errorf("resolve cursor token: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", Context{}, fmt.Errorf("unmarshal cursor entry: %w", err)
	}
	return e.Cursor, e.Context, nil
}

// Consume deletes a token. Tokens are single-use: the page fetched through
// one mints a fresh token for the page after it.
func (r *Registry) Consume(ctx context.Context, shortID string) error {
	return r.kv.Del(ctx, tokenKey(shortID))
}
