package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCLI(t *testing.T, h http.Handler) (*cli, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	out := &bytes.Buffer{}
	return &cli{
		api: &apiClient{
			baseURL:   srv.URL,
			tokenPath: filepath.Join(t.TempDir(), "token"),
			http:      srv.Client(),
		},
		out: out,
	}, out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginStoresTokenAndSendsIt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@x.com", body["email"])
		writeJSON(w, http.StatusOK, map[string]any{
			"user":  map[string]any{"id": "u1", "email": "jane@x.com", "name": map[string]string{"firstname": "Jane", "lastname": "Doe"}},
			"token": "tok-123",
		})
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Authentication invalid"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": "u1", "email": "jane@x.com", "name": map[string]string{"firstname": "Jane", "lastname": "Doe"}},
		})
	})
	c, out := newTestCLI(t, mux)
	ctx := context.Background()

	require.NoError(t, c.run(ctx, "auth", []string{"login", "-email", "jane@x.com", "-password", "secret1"}))
	assert.Equal(t, "tok-123", c.api.loadToken())

	require.NoError(t, c.run(ctx, "auth", []string{"who"}))
	assert.Contains(t, out.String(), "Jane Doe <jane@x.com>")

	require.NoError(t, c.run(ctx, "auth", []string{"logout"}))
	assert.Empty(t, c.api.loadToken())
}

func TestErrorsCarryServerMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Invalid Credentials"})
	})
	mux.HandleFunc("GET /api/v1/expense-tracker/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Transaction not found"})
	})
	c, _ := newTestCLI(t, mux)
	ctx := context.Background()

	err := c.run(ctx, "auth", []string{"login", "-email", "jane@x.com", "-password", "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Credentials")

	err = c.run(ctx, "tx", []string{"show", "abc"})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Transaction not found", apiErr.Message)
}

func TestTransactionListAndBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/expense-tracker/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "expense", r.URL.Query().Get("type"))
		assert.Equal(t, "2026-01-31", r.URL.Query().Get("endDate"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "t1", "type": "expense", "subclass": "groceries", "amount": 42.5, "description": "weekly shop", "date": "2026-01-10T00:00:00Z"},
			},
			"pagination": map[string]any{"page": 1, "totalPages": 1, "totalCount": 1},
		})
	})
	mux.HandleFunc("GET /api/v1/expense-tracker/analytics/balance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{"balance": map[string]any{
				"totalIncome": 1000, "totalExpense": 70.35, "netBalance": 929.65,
				"incomeTransactions": 1, "expenseTransactions": 2, "totalTransactions": 3,
			}},
		})
	})
	c, out := newTestCLI(t, mux)
	ctx := context.Background()

	require.NoError(t, c.run(ctx, "tx", []string{"list", "-type", "expense", "-end", "2026-01-31"}))
	assert.Contains(t, out.String(), "weekly shop")
	assert.Contains(t, out.String(), "42.50")
	assert.Contains(t, out.String(), "page 1 of 1 (1 total)")

	out.Reset()
	require.NoError(t, c.run(ctx, "analytics", []string{"balance"}))
	assert.Contains(t, out.String(), "929.65")
}

func TestAddValidatesLocally(t *testing.T) {
	called := false
	c, _ := newTestCLI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	err := c.run(context.Background(), "tx", []string{"add", "-amount", "-5"})
	assert.ErrorIs(t, err, errUsage)
	assert.False(t, called)
}
