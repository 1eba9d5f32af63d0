package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the upstream session token payload. The backend puts the user
// ID in "id"; tokens from other issuers carry it in "sub".
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Owner returns the identity the token belongs to.
func (c *Claims) Owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// IssueToken creates a signed HS256 token for userID.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Verifier resolves a session token to its owner. With a secret the token
// signature is checked here; without one the upstream stays the authority
// and only the expiry is enforced.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Owner returns the user a token belongs to. Opaque (non-JWT) tokens are
// accepted only without a secret and map to a digest of the token itself.
func (v *Verifier) Owner(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("auth.Verifier.Owner: %w", ErrInvalidToken)
	}

	if v.secret != "" {
		claims, err := ValidateToken(v.secret, token)
		if err != nil {
			return "", err
		}
		if claims.Owner() == "" {
			return "", fmt.Errorf("auth.Verifier.Owner: no subject: %w", ErrInvalidToken)
		}
		return claims.Owner(), nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return opaqueOwner(token), nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", fmt.Errorf("auth.Verifier.Owner: expired: %w", ErrInvalidToken)
	}
	if claims.Owner() == "" {
		return opaqueOwner(token), nil
	}
	return claims.Owner(), nil
}

func opaqueOwner(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:8])
}
