// Package logger is the structured logging surface every docops package
// writes through. Entries carry a message plus alternating key-value pairs.
package logger

import "context"

// Logger is implemented by ZapLogger, AsyncLogger and test fakes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the fields attached to ctx
	// with ContextWithFields.
	WithContext(ctx context.Context) Logger
}

type fieldsKey struct{}

// ContextWithFields attaches key-value pairs to ctx, after any already there.
func ContextWithFields(ctx context.Context, kv ...any) context.Context {
	prev := FieldsFromContext(ctx)
	merged := make([]any, 0, len(prev)+len(kv))
	merged = append(append(merged, prev...), kv...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFromContext returns the pairs attached by ContextWithFields.
func FieldsFromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	kv, _ := ctx.Value(fieldsKey{}).([]any)
	return kv
}
