// Package secrets is a thin read client for the secret store. The store is
// an external collaborator: this client only performs authenticated single
// reads with a delegated token already in hand.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tendant/simple-obo/pkg/downstream"
)

// Secret is a named secret value
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Client reads secrets from the secret store
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a function that configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for secret reads
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a secret store client for the given base URL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSecret reads one secret by name using the given access token
func (c *Client) GetSecret(ctx context.Context, name, accessToken string) (*Secret, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/secrets/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, downstream.NewStatusError(resp.StatusCode, body)
	}

	var secret Secret
	if err := json.Unmarshal(body, &secret); err != nil {
		return nil, fmt.Errorf("failed to parse secret response: %w", err)
	}
	if secret.Name == "" {
		secret.Name = name
	}
	return &secret, nil
}
