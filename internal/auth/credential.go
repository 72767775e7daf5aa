package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/roelfdiedericks/zaibridge/internal/config"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/paths"
)

// ErrNoCredential is returned by Load when nothing has been captured yet
var ErrNoCredential = errors.New("no stored credential, run login first")

// Credential is a captured login, stored as an API-key style auth entry.
type Credential struct {
	CookieString string    `json:"cookie"`
	Count        int       `json:"count"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// AuthInfo is the stored representation: the cookie string is the key
type AuthInfo struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// AuthInfo converts the credential to its stored form
func (c *Credential) AuthInfo() AuthInfo {
	return AuthInfo{Type: "api", Key: c.CookieString, CapturedAt: c.CapturedAt}
}

// Age returns how long ago the credential was captured
func (c *Credential) Age() time.Duration {
	if c.CapturedAt.IsZero() {
		return 0
	}
	return time.Since(c.CapturedAt)
}

// FileStore persists a credential as JSON with owner-only permissions.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path, or the default location when empty
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := paths.CredentialsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	expanded, err := paths.ExpandTilde(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: expanded}, nil
}

// Path returns the credential file location
func (s *FileStore) Path() string {
	return s.path
}

// Save writes cred atomically
func (s *FileStore) Save(cred *Credential) error {
	if cred == nil || cred.CookieString == "" {
		return fmt.Errorf("refusing to store an empty credential")
	}
	if err := config.AtomicWriteJSON(s.path, cred.AuthInfo(), 0600); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	L_info("auth: credential stored", "path", s.path)
	return nil
}

// Load reads the stored credential
func (s *FileStore) Load() (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	var info AuthInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse credential %s: %w", s.path, err)
	}
	if info.Key == "" {
		return nil, ErrNoCredential
	}
	if info.Type != "api" {
		return nil, fmt.Errorf("unsupported credential type %q", info.Type)
	}
	return &Credential{CookieString: info.Key, CapturedAt: info.CapturedAt, Count: countCookies(info.Key)}, nil
}

// Delete removes the stored credential. Missing files are not an error.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}

func countCookies(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ';' && s[i+1] == ' ' {
			n++
		}
	}
	return n
}
