package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TokenStore persists the access token between runs as a small JSON file
// next to the logs, so a login survives restarts.
type TokenStore struct {
	path string
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dir, "token.json")}
}

func (s *TokenStore) Path() string { return s.path }

type tokenFile struct {
	AccessToken string `json:"access_token"`
}

// Load returns the saved token, or "" with no error when none exists.
func (s *TokenStore) Load() (string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("backend: read token file: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return "", fmt.Errorf("backend: parse token file: %w", err)
	}
	return tf.AccessToken, nil
}

func (s *TokenStore) Save(token string) error {
	raw, err := json.Marshal(tokenFile{AccessToken: token})
	if err != nil {
		return fmt.Errorf("backend: marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("backend: create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("backend: write token file: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
