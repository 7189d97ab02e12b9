// ABOUTME: wit.ai HTTP client implementing the Classifier contract.
// ABOUTME: One GET /message call per utterance with a bearer server token.

package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.wit.ai"

// apiVersion pins the wit.ai response shape this client parses.
const apiVersion = "20240304"

// Client classifies text by calling a wit.ai application.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a classifier backed by wit.ai. token is the
// application's server access token.
func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With("component", "nlp"),
	}
}

// Classify sends text to the /message endpoint and decodes the response.
func (c *Client) Classify(ctx context.Context, text string) (*Result, error) {
	q := url.Values{}
	q.Set("v", apiVersion)
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(c.baseURL, "/")+"/message?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling wit.ai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wit.ai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding wit.ai response: %w", err)
	}

	c.logger.Debug("classified message", "intent", result.Intent())
	return &result, nil
}
