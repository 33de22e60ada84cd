package auth

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher runs bcrypt with a bounded number of concurrent hash
// operations so a burst of logins cannot starve request handling.
type PasswordHasher struct {
	cost  int
	slots chan struct{}
	dummy []byte
}

func NewPasswordHasher(cost, workers int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 10
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	h := &PasswordHasher{cost: cost, slots: make(chan struct{}, workers)}
	// Compared against on unknown emails so both login failures cost the same.
	h.dummy, _ = bcrypt.GenerateFromPassword([]byte("timing-equaliser"), cost)
	return h
}

func (h *PasswordHasher) acquire(ctx context.Context) error {
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *PasswordHasher) release() { <-h.slots }

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare reports whether password matches hash. An empty hash is compared
// against a dummy so the call takes as long as a real mismatch.
func (h *PasswordHasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.release()

	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}
