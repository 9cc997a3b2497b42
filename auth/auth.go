package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"talkie/api"
	"talkie/log"
)

const sessionFile = "session.json"

var ErrLoggedOut = errors.New("not logged in")

// Claims are the identity fields the backend signs into its tokens. The
// client cannot verify the signature; it reads them for display and expiry.
type Claims struct {
	UserID    uint64
	Username  string
	IsAdmin   bool
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func ParseClaims(token string) (Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	c := Claims{UserID: tc.UserID, Username: tc.Username, IsAdmin: tc.IsAdmin}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

type session struct {
	Token string   `json:"token"`
	User  api.User `json:"user"`
}

// Store is the process-wide token and user record, persisted between runs.
type Store struct {
	path string
	now  func() time.Time

	mu   sync.RWMutex
	sess session
}

func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "talkie"), nil
}

// Open loads the saved session from dir, if any.
func Open(dir string) (*Store, error) {
	s := &Store{path: filepath.Join(dir, sessionFile), now: time.Now}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &s.sess); err != nil {
		log.Warnf("discarding unreadable session file %s: %v", s.path, err)
		s.sess = session{}
	}
	return s, nil
}

func (s *Store) expired(tok string) bool {
	c, err := ParseClaims(tok)
	if err != nil {
		return true
	}
	return !c.ExpiresAt.IsZero() && !s.now().Before(c.ExpiresAt)
}

// Token returns the bearer credential, or "" when logged out or expired.
func (s *Store) Token() string {
	s.mu.RLock()
	tok := s.sess.Token
	s.mu.RUnlock()
	if tok == "" || s.expired(tok) {
		return ""
	}
	return tok
}

func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

func (s *Store) User() (api.User, bool) {
	if !s.LoggedIn() {
		return api.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.User, true
}

func (s *Store) Claims() (Claims, error) {
	tok := s.Token()
	if tok == "" {
		return Claims{}, ErrLoggedOut
	}
	return ParseClaims(tok)
}

func (s *Store) Save(token string, user api.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := session{Token: token, User: user}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	s.sess = next
	return nil
}

// Clear forgets the session in memory and on disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = session{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Login exchanges credentials for a token and persists it.
func Login(ctx context.Context, client *api.Client, s *Store, username, password string) (api.User, error) {
	resp, err := client.Login(ctx, username, password)
	if err != nil {
		return api.User{}, err
	}
	if err := s.Save(resp.Token, resp.User); err != nil {
		return api.User{}, err
	}
	log.Infof("logged in as %s", resp.User.Username)
	return resp.User, nil
}
