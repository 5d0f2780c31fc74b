package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Logging records op, player, duration and outcome of every request.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *xiangqidto.Request) (any, error) {
			start := time.Now()
			data, err := next(ctx, req)
			code := xiangqidto.EnvelopeSuccess
			if err != nil {
				code = CodeOf(err)
			}
			fields := []zap.Field{
				zap.String("op", req.Op),
				zap.String("player_id", req.PlayerID),
				zap.String("request_id", req.ID),
				zap.Duration("duration", time.Since(start)),
				zap.String("code", code),
			}
			if req.MatchID != "" {
				fields = append(fields, zap.String("match_id", req.MatchID))
			}
			if req.Op == xiangqidto.OpPing {
				obslog.L().Debug("request", fields...)
			} else {
				obslog.L().Info("request", fields...)
			}
			return data, err
		}
	}
}

// Recover turns a handler panic into an internal error.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *xiangqidto.Request) (data any, err error) {
			defer func() {
				if rec := recover(); rec != nil {
					obslog.L().Error("handler_panic", zap.String("op", req.Op), zap.Any("panic", rec), zap.Stack("stack"))
					data, err = nil, fmt.Errorf("panic in %s: %v", req.Op, rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Timeout bounds each request; lock waits and store calls observe it.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *xiangqidto.Request) (any, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
