// Package blobstore is a thin list client for the blob store plus the
// enumeration activity that runs inside an orchestration instance.
package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tendant/simple-obo/pkg/downstream"
)

// listResponse is the blob store's container listing payload
type listResponse struct {
	Blobs []blobItem `json:"blobs"`
}

type blobItem struct {
	Name string `json:"name"`
}

// Client lists blobs in the blob store
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a function that configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for listing
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a blob store client for the given base URL
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

// ListBlobs enumerates the blob names in a container using the given
// access token
func (c *Client) ListBlobs(ctx context.Context, container, accessToken string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+container+"?comp=list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read list response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, downstream.NewStatusError(resp.StatusCode, body)
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}

	names := make([]string, 0, len(list.Blobs))
	for _, blob := range list.Blobs {
		names = append(names, blob.Name)
	}
	return names, nil
}
