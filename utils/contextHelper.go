package utils

import "context"

type contextKey string

func (c contextKey) String() string { return string(c) }

// Request-scoped values set by the session and correlation middlewares.
const (
	ContextKeyUserId        = contextKey("UserId")
	ContextKeyUserName      = contextKey("UserName")
	ContextKeyCorrelationId = contextKey("CorrelationId")

	// ContextKeyLocationId scopes batch lookups to one stock location when set.
	ContextKeyLocationId = contextKey("LocationId")
)

func valueOf[T any](ctx context.Context, key contextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return valueOf[int](ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return valueOf[string](ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return valueOf[string](ctx, ContextKeyCorrelationId)
}

func GetLocationIdFromContext(ctx context.Context) (int, bool) {
	return valueOf[int](ctx, ContextKeyLocationId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

func SetLocationIdInContext(ctx context.Context, locationId int) context.Context {
	return context.WithValue(ctx, ContextKeyLocationId, locationId)
}
