package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is used when a token is requested with ttl <= 0.
	DefaultTokenTTL = time.Hour

	// TokenIssuer is stamped into every token and required on parse.
	TokenIssuer = "petnestd"

	clockSkew = 30 * time.Second
)

var signingMethod = jwt.SigningMethodHS256

// Claims of an API access token. The subject names the operator or
// service the token was minted for.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// GenerateAccessToken mints a signed token. An empty subject defaults to
// the role name.
func GenerateAccessToken(subject string, role Role, secret string, ttl time.Duration) (string, error) {
	switch {
	case secret == "":
		return "", errors.New("signing access token: empty secret")
	case !IsValidRole(role):
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if subject == "" {
		subject = string(role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	issued := time.Now()
	token := jwt.NewWithClaims(signingMethod, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    TokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Role: role,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{signingMethod.Alg()}),
	jwt.WithIssuer(TokenIssuer),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(clockSkew),
)

// ParseToken returns the claims of a token signed with secret. Every
// failure wraps ErrTokenInvalid.
func ParseToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
