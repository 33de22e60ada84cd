package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const assertionIssuer = "expensetracker-gateway"

// AssertionSigner mints and checks short-lived internal tokens that bind the
// forwarded identity headers to the gateway that produced them.
type AssertionSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAssertionSigner returns nil when secret is empty, which disables signed forwarding
func NewAssertionSigner(secret string, ttl time.Duration) *AssertionSigner {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AssertionSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *AssertionSigner) Sign(id Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    assertionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the assertion and that it matches the identity read from the headers
func (s *AssertionSigner) Verify(assertion string, id Identity) error {
	if assertion == "" {
		return fmt.Errorf("missing identity assertion")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(assertionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("invalid identity assertion: %w", err)
	}
	if claims.UserID != id.UserID || claims.Name != id.Name || claims.Email != id.Email {
		return fmt.Errorf("identity assertion does not match forwarded headers")
	}
	return nil
}
