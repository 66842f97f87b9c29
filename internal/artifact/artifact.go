// Package artifact uploads the synthesized RCA document to the artifact
// store. The store's contract is two operations; only upload is needed
// here: upload(content, key) -> url.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds one upload call.
const DefaultTimeout = 30 * time.Second

// Store uploads artifacts over HTTP.
type Store struct {
	url     string
	timeout time.Duration
}

// NewStore creates an artifact store client for the given upload endpoint.
func NewStore(url string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{url: url, timeout: timeout}
}

// Upload stores content under key and returns the artifact URL.
func (s *Store) Upload(ctx context.Context, content, key string) (string, error) {
	if s.url == "" {
		return "", fmt.Errorf("artifact store not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"key":     key,
		"content": content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal artifact upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create artifact upload: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: s.timeout}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifact upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("artifact store returned %d", resp.StatusCode)
	}

	var uploaded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decode artifact response: %w", err)
	}
	if uploaded.URL == "" {
		return "", fmt.Errorf("artifact store returned no url")
	}

	log.Info().Str("key", key).Str("url", uploaded.URL).Msg("Artifact uploaded")
	return uploaded.URL, nil
}
