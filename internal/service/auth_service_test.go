package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"golang.org/x/crypto/bcrypt"
)

type memPrincipalRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.Principal
	byEmail map[string]*domain.Principal
	creates int
	seq     int
}

func newMemPrincipalRepo() *memPrincipalRepo {
	return &memPrincipalRepo{byID: map[string]*domain.Principal{}, byEmail: map[string]*domain.Principal{}}
}

func (m *memPrincipalRepo) Create(_ context.Context, p *domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if _, ok := m.byEmail[p.Email]; ok {
		return domain.Conflict("Duplicate value entered for email field, please choose another value")
	}
	m.seq++
	p.ID = fmt.Sprintf("%024x", m.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.byID[p.ID] = p
	m.byEmail[p.Email] = p
	return nil
}
func (m *memPrincipalRepo) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, domain.NotFound("user not found")
}
func (m *memPrincipalRepo) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byEmail[email]; ok {
		return p, nil
	}
	return nil, domain.NotFound("user not found")
}

func newTestAuthService(repo domain.PrincipalRepository) (*AuthService, *auth.TokenManager) {
	tm := auth.NewTokenManager("secret", "", time.Hour)
	return NewAuthService(repo, tm, auth.NewPasswordHasher(bcrypt.MinCost, 2), nil), tm
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newMemPrincipalRepo()
	s, tm := newTestAuthService(repo)
	ctx := context.Background()

	r, err := s.Register(ctx, "Jane Doe", "Jane@X.com", "secret1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.Principal.ID == "" || r.Token == "" {
		t.Fatalf("expected principal id and token")
	}
	if r.Principal.Name != (domain.PersonName{First: "Jane", Last: "Doe"}) {
		t.Fatalf("unexpected name: %+v", r.Principal.Name)
	}
	if r.Principal.Email != "jane@x.com" {
		t.Fatalf("email should be normalized, got %q", r.Principal.Email)
	}
	if r.Principal.PasswordHash == "secret1" {
		t.Fatalf("password stored in plaintext")
	}

	lr, err := s.Login(ctx, "jane@x.com", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := tm.ValidateToken(lr.Token)
	if err != nil {
		t.Fatalf("login token invalid: %v", err)
	}
	if claims.UserID != r.Principal.ID || claims.Name != "Jane Doe" || claims.Email != "jane@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRegister_MiddleName(t *testing.T) {
	s, _ := newTestAuthService(newMemPrincipalRepo())
	r, err := s.Register(context.Background(), "Mary Ann Lee Smith", "mary@x.com", "secret1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	want := domain.PersonName{First: "Mary", Middle: "Ann Lee", Last: "Smith"}
	if r.Principal.Name != want {
		t.Fatalf("got %+v want %+v", r.Principal.Name, want)
	}
}

func TestRegister_ValidationPersistsNothing(t *testing.T) {
	cases := []struct {
		name, email, password string
	}{
		{"Jane", "jane@x.com", "secret1"},
		{"   ", "jane@x.com", "secret1"},
		{"Jo Doe", "jane@x.com", "secret1"},
		{"Jane Doe", "not-an-email", "secret1"},
		{"Jane Doe", "jane@x.com", "short"},
	}
	for _, tc := range cases {
		repo := newMemPrincipalRepo()
		s, _ := newTestAuthService(repo)
		_, err := s.Register(context.Background(), tc.name, tc.email, tc.password)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", tc, err)
		}
		if repo.creates != 0 {
			t.Fatalf("%+v: expected no store writes, got %d", tc, repo.creates)
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newMemPrincipalRepo()
	s, _ := newTestAuthService(repo)
	ctx := context.Background()

	first, err := s.Register(ctx, "Jane Doe", "jane@x.com", "secret1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err = s.Register(ctx, "Janet Dover", "JANE@x.com", "another1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	stored, _ := repo.GetByEmail(ctx, "jane@x.com")
	if stored.ID != first.Principal.ID || stored.Name.First != "Jane" {
		t.Fatalf("first principal modified: %+v", stored)
	}
	if _, err := s.Login(ctx, "jane@x.com", "secret1"); err != nil {
		t.Fatalf("original credentials should still work: %v", err)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	s, _ := newTestAuthService(newMemPrincipalRepo())
	ctx := context.Background()
	if _, err := s.Register(ctx, "Jane Doe", "jane@x.com", "secret1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, wrongPass := s.Login(ctx, "jane@x.com", "wrong-password")
	_, unknown := s.Login(ctx, "nobody@x.com", "secret1")
	_, malformed := s.Login(ctx, "nobody", "secret1")

	for _, err := range []error{wrongPass, unknown, malformed} {
		if !errors.Is(err, domain.ErrAuthentication) {
			t.Fatalf("expected authentication error, got %v", err)
		}
		if err.Error() != wrongPass.Error() {
			t.Fatalf("error messages differ: %q vs %q", err.Error(), wrongPass.Error())
		}
	}
	if wrongPass.Error() != "Invalid Credentials" {
		t.Fatalf("unexpected message %q", wrongPass.Error())
	}
}

func TestLogin_MissingFields(t *testing.T) {
	s, _ := newTestAuthService(newMemPrincipalRepo())
	if _, err := s.Login(context.Background(), "", "x"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	s, _ := newTestAuthService(newMemPrincipalRepo())
	ctx := context.Background()
	r, err := s.Register(ctx, "Jane Doe", "jane@x.com", "secret1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	id, err := s.Verify("Bearer " + r.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if id.UserID != r.Principal.ID || id.Name != "Jane Doe" || id.Email != "jane@x.com" {
		t.Fatalf("unexpected identity %+v", id)
	}

	for _, h := range []string{"", r.Token, "Bearer garbage", "Bearer " + r.Token + "x"} {
		_, err := s.Verify(h)
		if !errors.Is(err, domain.ErrAuthentication) || err.Error() != "Authentication invalid" {
			t.Fatalf("Verify(%q): expected uniform authentication error, got %v", h, err)
		}
	}
}
