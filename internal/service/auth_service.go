package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
)

const invalidCredentials = "Invalid Credentials"

// AuthService handles registration, login and token verification
type AuthService struct {
	principals domain.PrincipalRepository
	tokens     *auth.TokenManager
	hasher     *auth.PasswordHasher
	logger     *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	principals domain.PrincipalRepository,
	tokens *auth.TokenManager,
	hasher *auth.PasswordHasher,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthService{
		principals: principals,
		tokens:     tokens,
		hasher:     hasher,
		logger:     logger,
	}
}

// AuthResult is returned by Register and Login
type AuthResult struct {
	Principal *domain.Principal
	Token     string
}

// Register validates input, stores a new principal and issues a token.
// Nothing is persisted when validation fails.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	personName, err := domain.ParseName(name)
	if err != nil {
		metrics.ObserveAuthEvent("register", "invalid")
		return nil, err
	}
	email, err = domain.NormalizeEmail(email)
	if err != nil {
		metrics.ObserveAuthEvent("register", "invalid")
		return nil, err
	}
	if err := domain.ValidatePassword(password); err != nil {
		metrics.ObserveAuthEvent("register", "invalid")
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, err
	}

	p := &domain.Principal{
		Name:         personName,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.principals.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.ObserveAuthEvent("register", "conflict")
			return nil, err
		}
		s.logger.Error("failed to create principal", slog.String("error", err.Error()))
		return nil, err
	}

	token, err := s.issue(p)
	if err != nil {
		return nil, err
	}

	metrics.ObserveAuthEvent("register", "success")
	s.logger.Info("principal registered",
		slog.String("user_id", p.ID),
		slog.String("email", p.Email),
	)
	return &AuthResult{Principal: p, Token: token}, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, domain.Validation("Please provide email and password")
	}
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		// A malformed email cannot match anyone; answer like any other miss.
		normalized = ""
	}

	var p *domain.Principal
	if normalized != "" {
		p, err = s.principals.GetByEmail(ctx, normalized)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to load principal", slog.String("error", err.Error()))
			return nil, err
		}
	}

	hash := ""
	if p != nil {
		hash = p.PasswordHash
	}
	ok, err := s.hasher.Compare(ctx, hash, password)
	if err != nil {
		return nil, err
	}
	if p == nil || !ok {
		metrics.ObserveAuthEvent("login", "denied")
		s.logger.Info("login failed", slog.String("email", normalized))
		return nil, domain.Authentication(invalidCredentials)
	}

	token, err := s.issue(p)
	if err != nil {
		return nil, err
	}

	metrics.ObserveAuthEvent("login", "success")
	s.logger.Info("principal logged in",
		slog.String("user_id", p.ID),
		slog.String("email", p.Email),
	)
	return &AuthResult{Principal: p, Token: token}, nil
}

// Verify validates an Authorization header value and returns the token's identity.
// All failures collapse into one authentication error.
func (s *AuthService) Verify(authHeader string) (auth.Identity, error) {
	claims, err := s.tokens.VerifyHeader(authHeader)
	if err != nil {
		metrics.ObserveAuthEvent("verify", "denied")
		s.logger.Debug("token verification failed", slog.String("error", err.Error()))
		return auth.Identity{}, domain.Authentication("Authentication invalid")
	}
	metrics.ObserveAuthEvent("verify", "success")
	return claims.Identity(), nil
}

// Principal loads the stored principal for a verified identity
func (s *AuthService) Principal(ctx context.Context, id string) (*domain.Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound("User not found")
		}
		return nil, err
	}
	return p, nil
}

func (s *AuthService) issue(p *domain.Principal) (string, error) {
	token, err := s.tokens.GenerateToken(auth.Identity{
		UserID: p.ID,
		Name:   p.Name.Display(),
		Email:  p.Email,
	})
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return "", err
	}
	return token, nil
}
