package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
)

const (
	// defaultRequestTimeout bounds each REST call when none is configured.
	defaultRequestTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 32 << 20

	// healthMessage is the body the hub returns from GET /api/.
	healthMessage = "API running."
)

// Client talks to the hub's REST API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  Logger
}

// NewClient creates a REST client for the hub at baseURL.
//
// Parameters:
//   - baseURL: Hub base URL, e.g. http://hub.local:8123
//   - token: Long-lived access token sent as a bearer credential
//   - timeout: Per-request bound; zero selects the default
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("hub: invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// BaseURL returns the hub base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Health checks that the API answers with its running message.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	status, raw, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrRequestFailed, status)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if body.Message != healthMessage {
		return fmt.Errorf("%w: unexpected health message %q", ErrMalformedResponse, body.Message)
	}
	return nil
}

// GetState fetches one entity. An unknown entity yields ErrEntityNotFound.
func (c *Client) GetState(ctx context.Context, id entity.ID) (entity.Snapshot, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/api/states/"+id.String(), nil)
	if err != nil {
		return entity.Snapshot{}, err
	}
	switch status {
	case http.StatusOK:
		return DecodeState(raw)
	case http.StatusNotFound:
		return entity.Snapshot{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	default:
		return entity.Snapshot{}, fmt.Errorf("%w: get %s: status %d", ErrRequestFailed, id, status)
	}
}

// GetStates fetches every entity the hub knows. Entities that fail to
// decode are logged and skipped so one bad payload does not hide the rest.
func (c *Client) GetStates(ctx context.Context) ([]entity.Snapshot, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: get states: status %d", ErrRequestFailed, status)
	}
	return c.decodeStates(raw)
}

// SetState creates or replaces an entity's state and attributes on the hub.
// The hub's view of the entity after the write is returned.
func (c *Client) SetState(ctx context.Context, id entity.ID, state string, attrs map[string]entity.Value) (entity.Snapshot, error) {
	body := map[string]any{
		"state":      state,
		"attributes": EncodeAttributes(attrs),
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/states/"+id.String(), body)
	if err != nil {
		return entity.Snapshot{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return entity.Snapshot{}, fmt.Errorf("%w: set %s: status %d", ErrRequestFailed, id, status)
	}
	return DecodeState(raw)
}

// DeleteState removes an entity from the hub's state machine.
func (c *Client) DeleteState(ctx context.Context, id entity.ID) error {
	status, _, err := c.do(ctx, http.MethodDelete, "/api/states/"+id.String(), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	default:
		return fmt.Errorf("%w: delete %s: status %d", ErrRequestFailed, id, status)
	}
}

// CallService invokes domain.service on the hub. When id is non-zero it is
// sent as entity_id alongside params. The hub replies with the states that
// changed while the service ran.
func (c *Client) CallService(ctx context.Context, domain, service string, id entity.ID, params map[string]any) ([]entity.Snapshot, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	if !id.IsZero() {
		body["entity_id"] = id.String()
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	status, raw, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return c.decodeStates(raw)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s.%s rejected: %s", ErrRequestFailed, domain, service, strings.TrimSpace(string(raw)))
	default:
		return nil, fmt.Errorf("%w: %s.%s: status %d", ErrRequestFailed, domain, service, status)
	}
}

func (c *Client) decodeStates(raw []byte) ([]entity.Snapshot, error) {
	var payloads []json.RawMessage
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	snaps := make([]entity.Snapshot, 0, len(payloads))
	for _, p := range payloads {
		snap, err := DecodeState(p)
		if err != nil {
			c.logger.Warn("skipping malformed entity payload", "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// do performs one authenticated request. Transport failures and 5xx
// statuses return ErrRequestFailed; other statuses are left to the caller.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("hub: encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("hub: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading %s: %w", ErrRequestFailed, path, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, raw, fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, method, path, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, raw, fmt.Errorf("%w: %s %s", ErrAuthRejected, method, path)
	}
	return resp.StatusCode, raw, nil
}
