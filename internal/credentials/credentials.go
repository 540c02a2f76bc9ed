package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// credentialsFile is the on-disk format written by the tunnel client when it
// authenticates against the control plane.
type credentialsFile struct {
	AccessToken string `json:"access_token"`
}

// TokenSource supplies the bearer token used to authenticate against the
// metrics collector. The token is read lazily from the credentials file and
// cached until Invalidate is called.
type TokenSource struct {
	mu    sync.Mutex
	path  string
	token string
}

// NewTokenSource creates a token source backed by the given credentials file.
func NewTokenSource(path string) *TokenSource {
	return &TokenSource{path: path}
}

// Token returns the cached access token, reading the credentials file when
// no token is cached.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.AccessToken == "" {
		return "", errors.New("credentials file has no access token")
	}

	s.token = creds.AccessToken
	return s.token, nil
}

// Invalidate clears the cached token so the next Token call re-reads the
// credentials file. Called when the collector rejects the token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
