package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// ErrChainMismatch is returned when the relayer serves a different network
// than the session is connected to.
var ErrChainMismatch = errors.New("relayer serves a different chain")

// StatusError is a non-2xx relayer response.
type StatusError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("relayer returned %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("relayer returned %d: %s", e.StatusCode, e.Message)
}

// Client is a ConfidentialEngine backed by a relayer.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the relayer at url. A nil httpClient uses a
// client with a 30 second timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: strings.TrimRight(url, "/"), http: httpClient}
}

// Keys performs the initialization handshake.
func (c *Client) Keys(ctx context.Context) (*KeysResponse, error) {
	var resp KeysResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/keys", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Encrypt implements interfaces.ConfidentialEngine.
func (c *Client) Encrypt(ctx context.Context, target interfaces.EncryptTarget, field interfaces.Field) (interfaces.Handle, error) {
	req := EncryptRequest{
		Contract: target.Contract,
		Owner:    target.Owner,
		Kind:     field.Kind.String(),
		Value:    field.Value,
	}
	var resp EncryptResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/encrypt", req, &resp); err != nil {
		return interfaces.Handle{}, err
	}
	if resp.Handle.IsZero() {
		return interfaces.Handle{}, errors.New("relayer returned an empty handle")
	}
	return resp.Handle, nil
}

// UserDecrypt implements interfaces.ConfidentialEngine.
func (c *Client) UserDecrypt(ctx context.Context, handles []interfaces.Handle, auth *interfaces.Authorization) (map[interfaces.Handle][]byte, error) {
	req := UserDecryptRequest{Handles: handles, Authorization: auth}
	var resp UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/user-decrypt", req, &resp); err != nil {
		return nil, err
	}

	values := make(map[interfaces.Handle][]byte, len(resp.Values))
	for h, v := range resp.Values {
		values[h] = v
	}
	for _, h := range handles {
		if _, ok := values[h]; !ok {
			return nil, fmt.Errorf("relayer returned no value for %s", h)
		}
	}
	return values, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach relayer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("could not read relayer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(RequestIDHeader)}
		var errResp ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			statusErr.Message = errResp.Error
		} else {
			statusErr.Message = strings.TrimSpace(string(raw))
		}
		return statusErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("could not parse relayer response: %w", err)
	}
	return nil
}
