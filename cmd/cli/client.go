package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// apiClient talks to the gateway and keeps the bearer token on disk
type apiClient struct {
	baseURL   string
	tokenPath string
	http      *http.Client
}

func newAPIClient() *apiClient {
	home, _ := os.UserHomeDir()
	return &apiClient{
		baseURL:   apiURL(),
		tokenPath: filepath.Join(home, ".expensetracker", "token"),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func apiURL() string {
	if url := os.Getenv("API_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080"
}

// apiError is a non-2xx response. Both response shapes carry a message.
type apiError struct {
	Status  int
	Message string
	Details []string
}

func (e *apiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	return fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
}

type errorBody struct {
	Msg     string   `json:"msg"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// do sends body as JSON and decodes a 2xx response into out
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Msg
		}
		return &apiError{Status: resp.StatusCode, Message: msg, Details: eb.Errors}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *apiClient) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.tokenPath, []byte(token), 0o600)
}

func (c *apiClient) loadToken() string {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *apiClient) clearToken() error {
	if err := os.Remove(c.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
