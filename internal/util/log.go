package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logCtxKey struct{}

// WithLogger attaches a request scoped logger to ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, logCtxKey{}, logger)
}

// LogFromContext returns the request scoped logger stored in ctx, falling back
// to the global logger.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(logCtxKey{}).(zerolog.Logger); ok {
			return &l
		}
	}

	l := log.Logger
	return &l
}
