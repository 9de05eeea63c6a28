package neynar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// API is the subset of the Neynar surface the bot consumes. It exists so
// higher layers can take a test double instead of a live client.
type API interface {
	Feed(ctx context.Context, fid uint64, cursor string) (*FeedResponse, error)
	Notifications(ctx context.Context, fid uint64, cursor string, types []string) (*NotificationsResponse, error)
	Conversation(ctx context.Context, hash string) (*ConversationResponse, error)

	CreateSigner(ctx context.Context) (*Signer, error)
	RegisterSignedKey(ctx context.Context, signerUUID string, appFID uint64, deadline int64, signature string) (*Signer, error)
	LookupSigner(ctx context.Context, signerUUID string) (*Signer, error)

	PublishCast(ctx context.Context, req PublishCastRequest) (*PublishCastResponse, error)
	PublishReaction(ctx context.Context, req PublishReactionRequest) error
}

// Client is an HTTP client for the Neynar v2 API.
type Client struct {
	baseURL    string
	apiKey     string
	clientID   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the API root (default: https://api.neynar.com/v2).
	BaseURL string
	// APIKey is sent as x-api-key on every request.
	APIKey string
	// ClientID is sent as x-neynar-client-id (optional).
	ClientID string
	// HTTPClient overrides the default client (useful for tests).
	HTTPClient *http.Client
	// RequestsPerSecond caps the request rate (default: 5).
	RequestsPerSecond float64
}

// NewClient creates a Neynar API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("neynar api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.neynar.com/v2"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		clientID:   cfg.ClientID,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

// apiError is a non-2xx response from the API.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("neynar: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if c.clientID != "" {
		req.Header.Set("x-neynar-client-id", c.clientID)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Feed fetches one page of the for-you feed for a FID.
func (c *Client) Feed(ctx context.Context, fid uint64, cursor string) (*FeedResponse, error) {
	q := url.Values{}
	q.Set("provider", "neynar")
	q.Set("limit", "10")
	q.Set("fid", strconv.FormatUint(fid, 10))
	q.Set("viewer_fid", strconv.FormatUint(fid, 10))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out FeedResponse
	if err := c.do(ctx, http.MethodGet, "/farcaster/feed/for_you", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications fetches one page of notifications, optionally filtered by
// type. The types slice is passed through verbatim; validation happens in
// the paginator.
func (c *Client) Notifications(ctx context.Context, fid uint64, cursor string, types []string) (*NotificationsResponse, error) {
	q := url.Values{}
	q.Set("fid", strconv.FormatUint(fid, 10))
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out NotificationsResponse
	if err := c.do(ctx, http.MethodGet, "/farcaster/notifications", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversation fetches a cast and its direct replies by hash.
func (c *Client) Conversation(ctx context.Context, hash string) (*ConversationResponse, error) {
	q := url.Values{}
	q.Set("identifier", hash)
	q.Set("type", "hash")

	var out ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/farcaster/cast/conversation", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSigner creates a fresh unregistered signer.
func (c *Client) CreateSigner(ctx context.Context) (*Signer, error) {
	var out Signer
	if err := c.do(ctx, http.MethodPost, "/farcaster/signer", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterSignedKey registers a signer's key under the app FID, producing
// the approval URL the user opens in Warpcast.
func (c *Client) RegisterSignedKey(ctx context.Context, signerUUID string, appFID uint64, deadline int64, signature string) (*Signer, error) {
	req := registerSignedKeyRequest{
		SignerUUID: signerUUID,
		AppFID:     appFID,
		Deadline:   deadline,
		Signature:  signature,
	}

	var out Signer
	if err := c.do(ctx, http.MethodPost, "/farcaster/signer/signed_key", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupSigner reads the remote source of truth for a signer's state.
func (c *Client) LookupSigner(ctx context.Context, signerUUID string) (*Signer, error) {
	q := url.Values{}
	q.Set("signer_uuid", signerUUID)

	var out Signer
	if err := c.do(ctx, http.MethodGet, "/farcaster/signer", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishCast publishes a cast (top-level, reply or channel cast).
func (c *Client) PublishCast(ctx context.Context, req PublishCastRequest) (*PublishCastResponse, error) {
	var out PublishCastResponse
	if err := c.do(ctx, http.MethodPost, "/farcaster/cast", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishReaction publishes a like or recast.
func (c *Client) PublishReaction(ctx context.Context, req PublishReactionRequest) error {
	return c.do(ctx, http.MethodPost, "/farcaster/reaction", nil, req, nil)
}
