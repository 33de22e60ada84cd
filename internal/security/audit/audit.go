package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/infrastructure/logger"
)

type Logger struct {
	logger *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{logger: log}
}

func (al *Logger) LogAction(ctx context.Context, userID, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", logger.RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

// LogAuth records a register or login attempt. email is used when no user id exists yet.
func (al *Logger) LogAuth(ctx context.Context, action, subject, status, details string) {
	al.LogAction(ctx, subject, action, "principal", "", status, details)
}

func (al *Logger) LogDenied(ctx context.Context, userID, reason string) {
	al.LogAction(ctx, userID, "access_denied", "api", "", "denied", reason)
}
