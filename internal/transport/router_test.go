package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

func newTestRouter() *Router {
	r := NewRouter(msgcat.MustDefault())
	r.Use(Recover(), Logging())
	return r
}

func TestDispatchTranslatesDomainErrors(t *testing.T) {
	r := newTestRouter()
	r.Handle("move", func(context.Context, *xiangqidto.Request) (any, error) {
		return nil, xiangqidto.ErrIllegalMove.With("horse leg blocked")
	})

	env := r.Dispatch(context.Background(), &xiangqidto.Request{ID: "7", Op: "move"})
	if env.Code != xiangqidto.EnvelopeFail || env.Reason != xiangqidto.CodeIllegalMove {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Message != "둘 수 없는 수입니다." {
		t.Fatalf("message = %q", env.Message)
	}
	if env.ID != "7" || env.Op != "move" {
		t.Fatalf("id/op not echoed: %+v", env)
	}
	detail, _ := env.Data.(map[string]string)
	if detail["detail"] != "horse leg blocked" {
		t.Fatalf("detail = %v", env.Data)
	}
}

func TestDispatchMapsLockTimeoutAndUnknownErrors(t *testing.T) {
	r := newTestRouter()
	r.Handle("busy", func(context.Context, *xiangqidto.Request) (any, error) {
		return nil, &lock.TimeoutError{Keys: []string{"match:m1"}}
	})
	r.Handle("boom", func(context.Context, *xiangqidto.Request) (any, error) {
		return nil, errors.New("disk on fire")
	})
	r.Handle("panic", func(context.Context, *xiangqidto.Request) (any, error) {
		panic("bad state")
	})

	cases := map[string]string{
		"busy":  xiangqidto.CodeLockTimeout,
		"boom":  xiangqidto.CodeInternal,
		"panic": xiangqidto.CodeInternal,
		"nope":  xiangqidto.CodeValidation,
	}
	for op, want := range cases {
		env := r.Dispatch(context.Background(), &xiangqidto.Request{Op: op})
		if env.Reason != want {
			t.Fatalf("%s: reason = %q, want %q", op, env.Reason, want)
		}
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := newTestRouter()
	r.Handle(xiangqidto.OpPing, func(context.Context, *xiangqidto.Request) (any, error) { return "pong", nil })
	env := r.Dispatch(context.Background(), &xiangqidto.Request{Op: xiangqidto.OpPing})
	if env.Code != xiangqidto.EnvelopeSuccess || env.Data != "pong" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDecodePayload(t *testing.T) {
	var p xiangqidto.MovePayload
	if err := decode(&xiangqidto.Request{}, &p); !errors.Is(err, xiangqidto.ErrValidation) {
		t.Fatalf("empty payload err = %v", err)
	}
	if err := decode(&xiangqidto.Request{Payload: json.RawMessage(`{"from":1}`)}, &p); !errors.Is(err, xiangqidto.ErrValidation) {
		t.Fatalf("bad payload err = %v", err)
	}
	raw := json.RawMessage(`{"from":{"x":7,"y":1},"to":{"x":7,"y":4}}`)
	if err := decode(&xiangqidto.Request{Payload: raw}, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.From.X != 7 || p.To.Y != 4 {
		t.Fatalf("payload = %+v", p)
	}
}
