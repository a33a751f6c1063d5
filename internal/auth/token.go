// internal/auth/token.go
package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies login resume tokens. Keys are generated
// fresh per process: identities are as ephemeral as the in-memory rooms
// they join, so tokens are only meant to survive a reconnect, not a
// server restart.
type TokenIssuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// Identity is the subject of a resume token.
type Identity struct {
	UserName    string
	AvatarImage string
}

// NewTokenIssuer generates an ed25519 key pair for signing resume tokens.
func NewTokenIssuer() (*TokenIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return &TokenIssuer{privateKey: priv, publicKey: pub}, nil
}

// Mint signs a resume token for a logged-in identity. No expiry claim:
// tokens are already bounded by the process lifetime.
func (ti *TokenIssuer) Mint(id Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub": id.UserName,
	}
	if id.AvatarImage != "" {
		claims["avatar"] = id.AvatarImage
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(ti.privateKey)
}

// Verify checks a resume token and returns the identity it asserts.
func (ti *TokenIssuer) Verify(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.publicKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("token parse error: %w", err)
	}
	if !t.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	userName, ok := claims["sub"].(string)
	if !ok || userName == "" {
		return Identity{}, fmt.Errorf("missing sub claim")
	}

	id := Identity{UserName: userName}
	if avatar, ok := claims["avatar"].(string); ok {
		id.AvatarImage = avatar
	}
	return id, nil
}
