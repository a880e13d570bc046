// Package monitoring carries structured logging, in-process metrics and the
// gin middleware that feeds them.
package monitoring

import (
	"log/slog"
	"os"
	"time"
)

// Logger provides structured JSON logging with domain-specific helpers
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stdout
func NewLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})
	return &Logger{Logger: slog.New(handler)}
}

// RequestLogger logs one HTTP request
func (l *Logger) RequestLogger(method, path, ip string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// CollaboratorLogger logs one outbound collaborator call
func (l *Logger) CollaboratorLogger(name, operation string, duration time.Duration, err error) {
	if err != nil {
		l.Warn("Collaborator Call Failed",
			"collaborator", name,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	l.Debug("Collaborator Call",
		"collaborator", name,
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RuleRejectionLogger logs a rejected vote or finalize attempt. Rejections
// are expected traffic, logged at info for audit, not as errors.
func (l *Logger) RuleRejectionLogger(projectID, operation, actor, reason string) {
	l.Info("Rule Rejection",
		"project_id", projectID,
		"operation", operation,
		"actor", actor,
		"reason", reason,
	)
}
