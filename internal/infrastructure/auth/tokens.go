package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/access"
)

// SessionClaims are the JWT claims minted into an ActiveSession token. The
// protocol-level session surface enforces expiry on presentation; this
// subsystem only issues and revokes.
type SessionClaims struct {
	TenantID      string   `json:"tenant_id"`
	ClientID      string   `json:"client_id"`
	UserID        string   `json:"user_id"`
	GrantedScopes []string `json:"granted_scopes"`
	Encryption    string   `json:"encryption_tier"`
	jwt.RegisteredClaims
}

// TokenMinter signs and parses session tokens.
type TokenMinter struct {
	signingKey []byte
	issuer     string
}

// NewTokenMinter creates a minter with the given HMAC signing key.
func NewTokenMinter(signingKey, issuer string) (*TokenMinter, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("token signing key is required")
	}
	return &TokenMinter{signingKey: []byte(signingKey), issuer: issuer}, nil
}

// Mint signs a token for the session and stores it on the session.
func (m *TokenMinter) Mint(session *access.Session) (string, error) {
	claims := SessionClaims{
		TenantID:      session.TenantID,
		ClientID:      session.ClientID,
		UserID:        session.UserID,
		GrantedScopes: session.GrantedScopes,
		Encryption:    string(session.Encryption),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID.String(),
			Issuer:    m.issuer,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns its claims.
func (m *TokenMinter) Parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, fmt.Errorf("invalid session id in token: %w", err)
	}
	return claims, nil
}
