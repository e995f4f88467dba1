package service

import (
	"context"
	"crypto/sha256"
	"fmt"
)

type contextKey string

const verboseLoggingKey contextKey = "verbose-logging"

// WithVerboseLogging marks a context so downstream operations may log
// at elevated detail, typically toggled for a single debug session.
func WithVerboseLogging(ctx context.Context) context.Context {
	return context.WithValue(ctx, verboseLoggingKey, true)
}

// IsVerboseLogging reports whether the context carries the verbose flag.
func IsVerboseLogging(ctx context.Context) bool {
	v, ok := ctx.Value(verboseLoggingKey).(bool)
	return ok && v
}

// previewContent digests message content for logs. Actual text never
// reaches the log stream; length plus a short hash is enough to
// correlate entries against a known message.
func previewContent(content string) string {
	if content == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("len=%d sha=%x", len(content), sum[:4])
}
