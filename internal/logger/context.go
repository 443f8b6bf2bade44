package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orderIDKey   ctxKey = "order_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		return v.(string)
	}
	return ""
}

func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

func OrderIDFrom(ctx context.Context) string {
	if v := ctx.Value(orderIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// FromCtx returns logger with request_id and order_id automatically added
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if orderID := OrderIDFrom(ctx); orderID != "" {
		l = l.With(zap.String("order_id", orderID))
	}
	return l
}
