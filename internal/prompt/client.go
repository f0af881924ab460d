package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwulff/patientsim/internal/session"
)

const (
	DefaultBaseURL = "http://localhost:5001"

	sendPromptPath = "/api/send-prompt"
	resetPath      = "/api/reset"
)

// Client talks to the prompt service. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ session.PromptSource = (*Client)(nil)

// NewClient returns a client for the service at baseURL. A zero timeout
// leaves the platform default in place.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// NextPrompt fetches the next step of the script. Any status other than 200
// is an error.
func (c *Client) NextPrompt(ctx context.Context) (session.Prompt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sendPromptPath, nil)
	if err != nil {
		return session.Prompt{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return session.Prompt{}, fmt.Errorf("send prompt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.Prompt{}, fmt.Errorf("prompt service status %d", resp.StatusCode)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return session.Prompt{}, fmt.Errorf("decode prompt: %w", err)
	}
	return r.ToPrompt(), nil
}

// Reset rewinds the server-side script position. The response body is
// ignored.
func (c *Client) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+resetPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send reset request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset status %d", resp.StatusCode)
	}
	return nil
}
