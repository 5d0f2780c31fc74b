// Package transport carries requests and events between websocket clients
// and the match, room and recovery services.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// HandlerFunc serves one operation for an authenticated player.
type HandlerFunc func(ctx context.Context, req *xiangqidto.Request) (any, error)

type Middleware func(HandlerFunc) HandlerFunc

type Router struct {
	handlers map[string]HandlerFunc
	chain    []Middleware
	msgs     *msgcat.Catalog
}

func NewRouter(msgs *msgcat.Catalog) *Router {
	return &Router{handlers: make(map[string]HandlerFunc), msgs: msgs}
}

// Use appends middleware; the first one added runs outermost.
func (r *Router) Use(mw ...Middleware) { r.chain = append(r.chain, mw...) }

func (r *Router) Handle(op string, h HandlerFunc) { r.handlers[op] = h }

// Dispatch runs req through the middleware chain and translates the
// outcome into a reply envelope.
func (r *Router) Dispatch(ctx context.Context, req *xiangqidto.Request) *xiangqidto.Envelope {
	h, ok := r.handlers[req.Op]
	if !ok {
		h = func(context.Context, *xiangqidto.Request) (any, error) {
			return nil, xiangqidto.ErrValidation.With("unknown op " + req.Op)
		}
	}
	for i := len(r.chain) - 1; i >= 0; i-- {
		h = r.chain[i](h)
	}
	data, err := h(ctx, req)
	env := r.translate(data, err)
	env.ID, env.Op = req.ID, req.Op
	return env
}

// translate turns an error into a fail envelope with catalog text. The
// error's own detail, if any, is passed along in Data.
func (r *Router) translate(data any, err error) *xiangqidto.Envelope {
	if err == nil {
		return xiangqidto.Success(data)
	}
	code := CodeOf(err)
	env := xiangqidto.Fail(code, r.msgs.Failure(code, code))
	var de xiangqidto.DomainError
	if errors.As(err, &de) && de.Message != "" {
		env.Data = map[string]string{"detail": de.Message}
	}
	if code == xiangqidto.CodeInternal {
		obslog.L().Error("request_failed", zap.Error(err))
	}
	return env
}

// CodeOf maps an error to its wire code. Anything not recognised is internal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var de xiangqidto.DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	if errors.Is(err, xiangqidto.ErrLockTimeout) {
		return xiangqidto.CodeLockTimeout
	}
	return xiangqidto.CodeInternal
}

// decode reads the request payload into v.
func decode(req *xiangqidto.Request, v any) error {
	if len(req.Payload) == 0 {
		return xiangqidto.ErrValidation.With("payload is required")
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return xiangqidto.ErrValidation.With("invalid payload: " + err.Error())
	}
	return nil
}
