// Package session owns the operator's authenticated identity: login against
// the backend, the persisted session file and bearer-token access for the
// gateway.
package session

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
	"go.uber.org/zap"

	"github.com/nwfth/rm-unpick/internal/model"
	apperrors "github.com/nwfth/rm-unpick/pkg/errors"
)

// AuthGateway is the slice of the gateway the session needs for login.
type AuthGateway interface {
	Login(ctx context.Context, username, password string) (model.User, string, error)
}

// persisted is the minimal state written to disk. Only identity fields and
// the opaque token survive a restart; nothing credential-like is stored.
type persisted struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Manager holds the current identity and mirrors it to the session file.
type Manager struct {
	path string
	log  *zap.Logger

	mu    sync.Mutex
	user  *model.User
	token string
}

// NewManager builds a manager bound to the given session file path.
func NewManager(path string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{path: path, log: log}
}

// Restore loads a previously persisted session. An absent, unreadable or
// corrupt file degrades to the unauthenticated state and never fails.
func (m *Manager) Restore() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("session file unreadable, starting unauthenticated", zap.Error(err))
		}
		return
	}

	var state persisted
	if err := json.Unmarshal(data, &state); err != nil || state.Token == "" || state.User.Username == "" {
		m.log.Warn("session file corrupt, starting unauthenticated", zap.String("path", m.path))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = &state.User
	m.token = state.Token
}

// Login authenticates through the gateway and persists the resulting session.
func (m *Manager) Login(ctx context.Context, gw AuthGateway, username, password string) (model.User, error) {
	user, token, err := gw.Login(ctx, username, password)
	if err != nil {
		return model.User{}, err
	}

	m.mu.Lock()
	m.user = &user
	m.token = token
	m.mu.Unlock()

	if err := m.save(user, token); err != nil {
		// The in-memory session stays valid; persistence is best effort.
		m.log.Warn("failed to persist session", zap.Error(err))
	}
	return user, nil
}

// Logout drops the identity and removes the session file.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.user = nil
	m.token = ""
	m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("failed to remove session file", zap.Error(err))
	}
}

// Token implements the gateway's TokenSource.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// CurrentUser returns the acting identity for mutation attribution.
func (m *Manager) CurrentUser() (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return model.User{}, false
	}
	return *m.user, true
}

// Expired reports whether the stored token carries an exp claim in the past.
// The token is decoded without signature verification; only the backend can
// verify it, this is a local hint to prompt re-authentication early.
func (m *Manager) Expired() bool {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return true
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Opaque non-JWT tokens are passed through to the backend as-is.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// Require returns the identity or a typed authentication failure, refusing
// locally expired tokens.
func (m *Manager) Require() (model.User, error) {
	user, ok := m.CurrentUser()
	if !ok {
		return model.User{}, apperrors.ErrNotAuthenticated
	}
	if m.Expired() {
		return model.User{}, apperrors.ErrSessionExpired
	}
	return user, nil
}

func (m *Manager) save(user model.User, token string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(persisted{User: user, Token: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
