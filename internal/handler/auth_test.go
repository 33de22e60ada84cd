package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/ratelimit"
	"github.com/aryan0dhankhar/expensetracker/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*domain.Principal
	seq     int
}

func (m *memUserRepo) Create(_ context.Context, p *domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[p.Email]; ok {
		return domain.Conflict("Duplicate value entered for email field, please choose another value")
	}
	m.seq++
	p.ID = fmt.Sprintf("%024x", m.seq)
	m.byEmail[p.Email] = p
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byEmail {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.NotFound("user not found")
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byEmail[email]; ok {
		return p, nil
	}
	return nil, domain.NotFound("user not found")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthServer(t *testing.T, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()
	tm := auth.NewTokenManager("test-secret", "", time.Hour)
	svc := service.NewAuthService(&memUserRepo{byEmail: map[string]*domain.Principal{}}, tm,
		auth.NewPasswordHasher(bcrypt.MinCost, 2), quietLogger())
	mux := http.NewServeMux()
	NewAuthHandler(svc, limiter, nil, quietLogger()).Routes(mux)
	return mux
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginVerifyScenario(t *testing.T) {
	h := newAuthServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"name": "Jane Doe", "email": "jane@x.com", "password": "secret1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, domain.PersonName{First: "Jane", Last: "Doe"}, reg.User.Name)
	assert.Equal(t, reg.User.ID, reg.User.MongoID)
	assert.Equal(t, reg.User.ID, reg.User.UserID)
	assert.NotEmpty(t, reg.Token)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "jane@x.com", "password": "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"msg":"Invalid Credentials"}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "nobody@x.com", "password": "wrong-pass"}, nil)
	assert.JSONEq(t, `{"msg":"Invalid Credentials"}`, rec.Body.String(), "unknown email looks like a wrong password")

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "JANE@x.com", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = doJSON(t, h, http.MethodGet, "/verify", nil, http.Header{"Authorization": {"Bearer " + login.Token}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reg.User.ID, rec.Header().Get(auth.HeaderUserID))
	assert.Equal(t, "Jane Doe", rec.Header().Get(auth.HeaderUserName))
	assert.Equal(t, "jane@x.com", rec.Header().Get(auth.HeaderUserEmail))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, http.Header{"Authorization": {"Bearer " + login.Token}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "$2a$", "hash must never be returned")
}

func TestRegisterValidationAndConflict(t *testing.T) {
	h := newAuthServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"name": "Jane", "email": "jane@x.com", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"msg":"Please provide a full name with at least a first and last name"}`, rec.Body.String())

	body := map[string]string{"name": "Jane Doe", "email": "jane@x.com", "password": "secret1"}
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/v1/auth/register", body, nil).Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/register", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"msg":"Duplicate value entered for email field, please choose another value"}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "jane@x.com"}, nil)
	assert.JSONEq(t, `{"msg":"Please provide email and password"}`, rec.Body.String())
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	h := newAuthServer(t, nil)
	for _, header := range []string{"", "Bearer", "Bearer garbage", "bearer abc", "Basic abc"} {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/verify", nil, http.Header{"Authorization": {header}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.JSONEq(t, `{"msg":"Authentication invalid"}`, rec.Body.String())
		assert.Empty(t, rec.Header().Get(auth.HeaderUserID))
	}
}

func TestLoginStrictRateLimit(t *testing.T) {
	l := ratelimit.NewLimiter(100, time.Minute)
	defer l.Stop()
	h := newAuthServer(t, l)

	var last int
	for i := 0; i < strictAuthLimit+1; i++ {
		last = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"email": "a@b.co", "password": "x"}, nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
