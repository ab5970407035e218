// Package session issues and validates login sessions. Clients hold a random
// token; only its SHA-256 is stored.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"peaklogger/internal/storage"
)

const (
	CookieName  = "session"
	Lifetime    = 30 * 24 * time.Hour
	renewWithin = 15 * 24 * time.Hour
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateToken returns 20 random bytes as lowercase unpadded base32.
func GenerateToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(buf)), nil
}

// ID derives the stored session id from a client token.
func ID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type Manager struct {
	Store storage.Store
	Now   func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) Create(ctx context.Context, token string, userID int64) (storage.Session, error) {
	s := storage.Session{
		ID:        ID(token),
		UserID:    userID,
		ExpiresAt: m.now().Add(Lifetime).Truncate(time.Second),
	}
	if err := m.Store.InsertSession(ctx, s); err != nil {
		return storage.Session{}, err
	}
	return s, nil
}

// Validate resolves a token to its session and user. Expired sessions are
// deleted; sessions in the second half of their life are extended.
// Unknown or expired tokens yield storage.ErrNotFound.
func (m *Manager) Validate(ctx context.Context, token string) (storage.Session, storage.User, error) {
	id := ID(token)
	s, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return storage.Session{}, storage.User{}, err
	}
	user, err := m.Store.GetUser(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = m.Store.DeleteSession(ctx, id)
		}
		return storage.Session{}, storage.User{}, err
	}

	now := m.now()
	if !now.Before(s.ExpiresAt) {
		if err := m.Store.DeleteSession(ctx, id); err != nil {
			return storage.Session{}, storage.User{}, err
		}
		return storage.Session{}, storage.User{}, storage.ErrNotFound
	}
	if now.After(s.ExpiresAt.Add(-renewWithin)) {
		s.ExpiresAt = now.Add(Lifetime).Truncate(time.Second)
		if err := m.Store.UpdateSessionExpiry(ctx, id, s.ExpiresAt); err != nil {
			return storage.Session{}, storage.User{}, err
		}
	}
	return s, user, nil
}

func (m *Manager) Invalidate(ctx context.Context, token string) error {
	return m.Store.DeleteSession(ctx, ID(token))
}

// SetCookie stores token in the session cookie until expiresAt.
func SetCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the session token carried by r, if any.
func Token(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
