package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure so callers
// cannot tell a bad signature from an expired token or a malformed header.
var ErrInvalidToken = errors.New("authentication invalid")

const bearerPrefix = "Bearer "

// Claims are the session token claims
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the forwarded identity carried by the claims
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Name: c.Name, Email: c.Email}
}

type TokenManager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

func NewTokenManager(secret, issuer string, lifetime time.Duration) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "expensetracker-auth"
	}
	if lifetime <= 0 {
		lifetime = 30 * 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, lifetime: lifetime, now: time.Now}
}

// Lifetime returns how long issued tokens stay valid
func (tm *TokenManager) Lifetime() time.Duration {
	return tm.lifetime
}

func (tm *TokenManager) GenerateToken(id Identity) (string, error) {
	return tm.generate(id, tm.lifetime)
}

func (tm *TokenManager) generate(id Identity, expiresIn time.Duration) (string, error) {
	if id.UserID == "" {
		return "", fmt.Errorf("user id required")
	}
	now := tm.now()
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ValidateToken checks signature and expiry. Any failure yields ErrInvalidToken.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyHeader extracts the bearer token from an Authorization header value and validates it
func (tm *TokenManager) VerifyHeader(authHeader string) (*Claims, error) {
	tokenString, err := ExtractToken(authHeader)
	if err != nil {
		return nil, err
	}
	return tm.ValidateToken(tokenString)
}

// ExtractToken returns the token following a case-sensitive "Bearer " prefix
func ExtractToken(authHeader string) (string, error) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" || strings.ContainsRune(token, ' ') {
		return "", ErrInvalidToken
	}
	return token, nil
}
