package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsplane/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, expired or badly signed.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT body of an opsplane bearer token.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tid"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	DeviceType  string   `json:"dtype,omitempty"`
	DeviceID    string   `json:"did,omitempty"`
}

// Tokens issues and validates HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
}

// NewTokens returns a Tokens signing with secret.
func NewTokens(secret, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Tokens{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for p that expires after ttl.
func (t *Tokens) Issue(p *Principal, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.Username,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TenantID:    p.TenantID.String(),
		Roles:       p.Roles,
		Permissions: p.Permissions,
	}
	if p.Device != nil {
		claims.DeviceType = p.Device.Type
		claims.DeviceID = p.Device.ID
		if claims.Subject == "" {
			claims.Subject = p.Device.String()
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a token and returns the principal it names.
func (t *Tokens) Parse(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	p := &Principal{
		TenantID:    tenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.DeviceType != "" {
		p.Device = &store.DeviceIdentifier{Type: claims.DeviceType, ID: claims.DeviceID}
	} else {
		p.Username = claims.Subject
	}
	return p, nil
}

// Fingerprint returns a SHA-256 hash of the token, safe to log.
func Fingerprint(token string) string {
	token = strings.TrimSpace(token)

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
