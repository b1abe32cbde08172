// Package tokens mints and verifies the HS256 operator tokens accepted by
// the ops API.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cdahabbo/rolesync/pkg/middleware"
)

const (
	Issuer     = "rolesync"
	ScopeAdmin = "admin"
)

var (
	ErrWeakSecret = errors.New("admin jwt secret must be at least 16 bytes")
	ErrRevoked    = errors.New("token revoked")
)

// Revocations records revoked token ids until they would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Manager struct {
	secret  []byte
	now     func() time.Time
	revoked Revocations
}

func NewManager(secret string, revoked Revocations) (*Manager, error) {
	if len(secret) < 16 {
		return nil, ErrWeakSecret
	}
	return &Manager{secret: []byte(secret), now: time.Now, revoked: revoked}, nil
}

// GenerateAccessToken creates a signed operator token for subject.
func (m *Manager) GenerateAccessToken(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := m.now()
	claims := jwt.MapClaims{
		"iss":   Issuer,
		"sub":   subject,
		"scope": ScopeAdmin,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString(m.secret)
}

type token struct {
	claims jwt.MapClaims
}

func (t *token) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Verify implements middleware.Verifier.
func (m *Manager) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if m.revoked != nil {
		jti, _ := claims["jti"].(string)
		revoked, err := m.revoked.IsRevoked(ctx, jti)
		if err != nil {
			return nil, fmt.Errorf("revocation check: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return &token{claims: claims}, nil
}

// Revoke invalidates the token identified by jti until exp.
func (m *Manager) Revoke(ctx context.Context, jti string, exp time.Time) error {
	if m.revoked == nil {
		return nil
	}
	ttl := exp.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	return m.revoked.Revoke(ctx, jti, ttl)
}
