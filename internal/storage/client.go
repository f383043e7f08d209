// Package storage talks to the object store used for listing images.
// Staging uploads get a short-lived signed URL so the generation
// service can read them; permanent uploads get a public URL that lives
// on the published listing.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	requestTimeout  = 60 * time.Second
	maxDownloadSize = 16 << 20
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	signedTTL  time.Duration
}

func NewClient(baseURL, apiKey string, signedTTL time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		signedTTL:  signedTTL,
	}
}

type uploadResponse struct {
	URL       string `json:"url"`
	SignedURL string `json:"signedUrl"`
}

// Upload stores data under a fresh object key in the given bucket and
// returns the URL the object is reachable at. With signed true the
// returned URL is time-limited; otherwise it is the public URL.
func (c *Client) Upload(ctx context.Context, bucket string, data []byte, mimeType string, signed bool) (string, error) {
	key := uuid.NewString()
	endpoint := fmt.Sprintf("%s/v1/buckets/%s/objects/%s", c.baseURL, url.PathEscape(bucket), key)
	if signed {
		endpoint += fmt.Sprintf("?signed=true&ttl=%d", int(c.signedTTL.Seconds()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload object: status %d: %s", resp.StatusCode, string(body))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("objectKey", key).
		Int("size", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Uploaded object")

	if signed && out.SignedURL != "" {
		return out.SignedURL, nil
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload object: empty url in response")
	}
	return out.URL, nil
}

// Download fetches the object at rawURL and returns its bytes and
// content type. Objects over the size cap are rejected.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download object: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read object body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, "", fmt.Errorf("download object: exceeds %d bytes", maxDownloadSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
