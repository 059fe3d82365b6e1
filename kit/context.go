package kit

import "context"

type contextKey string

const (
	TransportKey    contextKey = "kit_transport" // "loop", "http", "mcp"
	RequestIDKey    contextKey = "kit_request_id"
	SessionIDKey    contextKey = "kit_session_id"
	OriginatorKey   contextKey = "kit_originator"
	InvocationIDKey contextKey = "kit_invocation_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "loop"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// WithOriginator stores the chat user a command came from.
func WithOriginator(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, OriginatorKey, who)
}
func GetOriginator(ctx context.Context) string {
	v, _ := ctx.Value(OriginatorKey).(string)
	return v
}

func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InvocationIDKey, id)
}
func GetInvocationID(ctx context.Context) string {
	v, _ := ctx.Value(InvocationIDKey).(string)
	return v
}
