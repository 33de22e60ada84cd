package security

import (
	"log/slog"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
)

// ResourceType identifies the kind of resource being accessed
type ResourceType string

const (
	ResourceTransaction  ResourceType = "transaction"
	ResourceStagedUpload ResourceType = "staged_upload"
)

// Resource describes an owned record about to be returned or changed
type Resource struct {
	Type    ResourceType
	ID      string
	OwnerID string
}

// OwnershipGuard enforces that a principal only reaches records it owns.
// A mismatch is reported as not-found so the record's existence is not revealed.
type OwnershipGuard struct {
	logger *slog.Logger
}

// NewOwnershipGuard creates a new ownership guard
func NewOwnershipGuard(logger *slog.Logger) *OwnershipGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnershipGuard{logger: logger}
}

// Check returns nil when requesterID owns res, otherwise a not-found error
func (g *OwnershipGuard) Check(requesterID string, res Resource) error {
	if requesterID != "" && res.OwnerID == requesterID {
		return nil
	}
	g.logger.Warn("resource access denied",
		slog.String("user_id", requesterID),
		slog.String("resource_id", res.ID),
		slog.String("resource_type", string(res.Type)),
	)
	return domain.NotFound(notFoundMessage(res.Type))
}

func notFoundMessage(t ResourceType) string {
	switch t {
	case ResourceTransaction:
		return "Transaction not found"
	case ResourceStagedUpload:
		return "Processing record not found"
	}
	return "Resource not found"
}
