package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted sync service.
const DefaultBaseURL = "https://app.lore.varalys.com"

const (
	connectTimeout = 30 * time.Second
	requestTimeout = 120 * time.Second
)

// ErrPayloadTooLarge signals an HTTP 413 (or equivalent) push rejection.
// The engine reacts by retrying the batch one session at a time.
var ErrPayloadTooLarge = errors.New("payload too large")

// QuotaError is the structured quota rejection from /push.
type QuotaError struct {
	Message string       `json:"error"`
	Details QuotaDetails `json:"details"`
}

// QuotaDetails describes the account's quota state at rejection time.
type QuotaDetails struct {
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Plan      string `json:"plan"`
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s (%d/%d on %s plan)", e.Message, e.Details.Current, e.Details.Limit, e.Details.Plan)
}

// Client talks the cloud sync protocol: JSON over HTTPS with bearer auth.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for the given endpoint. An empty baseURL means
// the hosted service.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// StatusResponse is the account summary from /status. Email, plan and the
// session limit are display extras; servers that omit them leave the zero
// values.
type StatusResponse struct {
	Email            string     `json:"email"`
	Plan             string     `json:"plan"`
	SessionCount     int        `json:"session_count"`
	SessionLimit     int        `json:"session_limit"`
	StorageUsedBytes int64      `json:"storage_used_bytes"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
}

// SessionMetadata is the cleartext envelope around an encrypted session.
// The service needs it for quota enforcement and listings; message content
// never travels outside encrypted_data.
type SessionMetadata struct {
	ToolName     string     `json:"tool_name"`
	ProjectPath  string     `json:"project_path"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
}

// PushSession is one session on the wire.
type PushSession struct {
	ID            string          `json:"id"`
	MachineID     string          `json:"machine_id"`
	EncryptedData string          `json:"encrypted_data"`
	Metadata      SessionMetadata `json:"metadata"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PushResponse acknowledges a successful push.
type PushResponse struct {
	SyncedCount int       `json:"synced_count"`
	ServerTime  time.Time `json:"server_time"`
}

// PullResponse carries remote sessions plus the server time to use as the
// next since cursor.
type PullResponse struct {
	Sessions   []PushSession `json:"sessions"`
	ServerTime time.Time     `json:"server_time"`
}

// Status fetches the account summary.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSalt fetches the account's stored salt; empty when none is set yet.
func (c *Client) GetSalt(ctx context.Context) (string, error) {
	var resp struct {
		Salt string `json:"salt"`
	}
	if err := c.do(ctx, http.MethodGet, "/salt", nil, &resp); err != nil {
		return "", err
	}
	return resp.Salt, nil
}

// SetSalt uploads the salt so other machines can derive the same key.
func (c *Client) SetSalt(ctx context.Context, salt string) error {
	body := map[string]string{"salt": salt}
	return c.do(ctx, http.MethodPost, "/salt", body, nil)
}

// Push uploads a batch of encrypted sessions. Quota rejections surface as
// *QuotaError; oversized payloads as ErrPayloadTooLarge.
func (c *Client) Push(ctx context.Context, sessions []PushSession) (*PushResponse, error) {
	body := map[string]any{"sessions": sessions}
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/push", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull downloads sessions changed since the cursor; a nil cursor means
// everything.
func (c *Client) Pull(ctx context.Context, since *time.Time) (*PullResponse, error) {
	body := map[string]any{}
	if since != nil {
		body["since"] = since.UTC().Format(time.RFC3339Nano)
	}
	var resp PullResponse
	if err := c.do(ctx, http.MethodPost, "/pull", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.asError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func (c *Client) asError(status int, body []byte) error {
	if status == http.StatusRequestEntityTooLarge {
		return ErrPayloadTooLarge
	}

	var quota QuotaError
	if err := json.Unmarshal(body, &quota); err == nil && quota.Message != "" {
		if strings.Contains(quota.Message, "limit") || quota.Details.Limit > 0 {
			return &quota
		}
		// Some rejections spell out size problems in the message instead
		// of the status code.
		if strings.Contains(strings.ToLower(quota.Message), "too large") {
			return ErrPayloadTooLarge
		}
		return fmt.Errorf("server error (HTTP %d): %s", status, quota.Message)
	}
	if strings.Contains(strings.ToLower(string(body)), "too large") {
		return ErrPayloadTooLarge
	}

	if status == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed (HTTP 401): check your API key")
	}
	return fmt.Errorf("server error (HTTP %d)", status)
}
