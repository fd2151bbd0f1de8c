package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a hello token fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of the hello token a bot presents to the gateway.
type Claims struct {
	Username string `json:"username"`
	AuthMode string `json:"auth_mode"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration. An empty Secret disables tokens.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Enabled reports whether tokens are signed and required.
func (c *JWTConfig) Enabled() bool {
	return c != nil && len(c.Secret) > 0
}

// GenerateToken signs a hello token for username.
func GenerateToken(cfg *JWTConfig, username, authMode string) (string, error) {
	if !cfg.Enabled() {
		return "", nil
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		AuthMode: authMode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a hello token.
func ValidateToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	if cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		valid := false
		for _, a := range aud {
			if a == cfg.Audience {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("%w: audience", ErrInvalidToken)
		}
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}

	return claims, nil
}
