package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/tracing"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
)

// ErrRejected means the credential was checked and refused
var ErrRejected = errors.New("token rejected")

// Verifier checks an Authorization header value and returns the caller's identity.
// Any error means the request must not be forwarded.
type Verifier interface {
	Verify(ctx context.Context, authHeader string) (auth.Identity, error)
}

// LocalVerifier validates tokens in process with the shared signing secret
type LocalVerifier struct {
	tokens *auth.TokenManager
}

func NewLocalVerifier(tokens *auth.TokenManager) *LocalVerifier {
	return &LocalVerifier{tokens: tokens}
}

func (v *LocalVerifier) Verify(ctx context.Context, authHeader string) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}
	claims, err := v.tokens.VerifyHeader(authHeader)
	if err != nil {
		return auth.Identity{}, ErrRejected
	}
	id := claims.Identity()
	if id.UserID == "" {
		return auth.Identity{}, ErrRejected
	}
	return id, nil
}

// RemoteVerifier asks the auth service's /verify endpoint. Transport errors
// and 5xx answers count against the circuit breaker; a 401 does not, and
// neither does a caller cancelling its own request.
type RemoteVerifier struct {
	verifyURL string
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewRemoteVerifier creates a verifier for authServiceURL. breaker may be nil.
func NewRemoteVerifier(authServiceURL string, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *RemoteVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(5, 2, 10*time.Second)
	}
	breaker.SetIgnore(func(err error) bool {
		return errors.Is(err, context.Canceled)
	})
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		metrics.SetBreakerState(int(to))
		logger.Warn("verifier circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	return &RemoteVerifier{
		verifyURL: authServiceURL + "/verify",
		client:    &http.Client{Transport: tracing.Transport(nil)},
		breaker:   breaker,
		logger:    logger,
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, authHeader string) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}
	var id auth.Identity
	rejected := false

	err := v.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.verifyURL, nil)
		if err != nil {
			return err
		}
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode == http.StatusOK:
			var ok bool
			id, ok = auth.IdentityFromHeaders(resp.Header)
			if !ok {
				rejected = true
			}
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("auth service returned %d", resp.StatusCode)
		default:
			rejected = true
			return nil
		}
	})
	if errors.Is(err, context.Canceled) {
		v.logger.Debug("verification abandoned by caller")
		return auth.Identity{}, err
	}
	if err != nil {
		return auth.Identity{}, err
	}
	if rejected {
		return auth.Identity{}, ErrRejected
	}
	return id, nil
}
