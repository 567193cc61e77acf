// Package requestid carries the correlation id of an inbound request into
// outbound calls and typed errors.
package requestid

import "context"

const Header = "X-Request-Id"

type contextKey struct{}

func WithContext(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
