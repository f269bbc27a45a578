// Package tokenstore holds the current access/refresh token pair and
// persists it to disk so a process restart observes the latest tokens.
// It is a dumb, race-free accessor: token contents are never validated
// here. Mutation happens only through the refresh coordinator and explicit
// login/logout.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// ErrEmptyAccessToken is returned by Set when the access token is empty.
// An empty access token is only legal via Clear, which wipes both fields.
var ErrEmptyAccessToken = errors.New("tokenstore: access token must not be empty")

// TokenPair is the client-side view of the stored tokens. RefreshToken may
// be empty when the auth provider did not issue one.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// File is the on-disk format. The OAuth token wrapper matches the shape
// other tooling expects, so token files are portable.
type File struct {
	Token *oauth2.Token `json:"token"`
}

// Store is the durable token accessor. Set and Clear persist synchronously;
// Get returns a snapshot taken at call time.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	pair *TokenPair
}

// New creates an empty Store backed by the file at path without reading
// any existing file. A fresh login uses it to overwrite a corrupt token
// file that Open refuses to load.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, logger: logger}
}

// Open creates a Store backed by the file at path, loading any previously
// persisted pair. A missing file means logged out, not an error.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("tokenstore: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenstore: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenstore: %s missing token field (re-login required)", path)
	}

	s.pair = &TokenPair{
		AccessToken:  tf.Token.AccessToken,
		RefreshToken: tf.Token.RefreshToken,
	}

	logger.Debug("loaded saved tokens",
		slog.String("path", path),
		slog.Bool("has_refresh_token", s.pair.RefreshToken != ""),
	)

	return s, nil
}

// Get returns a snapshot of the current pair, or nil when logged out.
func (s *Store) Get() *TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pair == nil {
		return nil
	}

	p := *s.pair

	return &p
}

// Set stores the pair in memory and persists it to disk before returning.
func (s *Store) Set(pair TokenPair) error {
	if pair.AccessToken == "" {
		return ErrEmptyAccessToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(pair); err != nil {
		return err
	}

	p := pair
	s.pair = &p

	return nil
}

// Clear wipes both tokens from memory and removes the token file. Removing
// a file that does not exist is not an error (already logged out).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = nil

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenstore: removing %s: %w", s.path, err)
	}

	s.logger.Debug("cleared tokens", slog.String("path", s.path))

	return nil
}

// save writes the token file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values. Caller holds the write lock.
func (s *Store) save(pair TokenPair) error {
	tf := File{Token: &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", dir, mkErr)
	}

	// Temp file in the same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing: %w", err)
	}

	// Flush before rename so a crash cannot leave a partial token file at
	// the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("tokenstore: renaming: %w", err)
	}

	success = true

	return nil
}
