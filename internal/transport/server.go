package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Lobby lists the open tables.
type Lobby interface {
	List(ctx context.Context) ([]xiangqidto.RoomView, error)
}

// Counters reads the shared online counters.
type Counters interface {
	Count(ctx context.Context, counter string) (int64, error)
}

type StatsView struct {
	Users     int64 `json:"users"`
	Battles   int64 `json:"battles"`
	LocalConn int   `json:"localConnections"`
}

// Routes mounts the websocket endpoint plus the read-only HTTP views.
func Routes(hub *Hub, lobby Lobby, counters Counters, userCounter, battleCounter string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", hub.ServeWS)
	r.Get("/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms, err := lobby.List(r.Context())
		if err != nil {
			obslog.L().Warn("http_rooms_failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, xiangqidto.Fail(xiangqidto.CodeInternal, ""))
			return
		}
		writeJSON(w, http.StatusOK, xiangqidto.Success(rooms))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		users, err := counters.Count(r.Context(), userCounter)
		if err == nil {
			var battles int64
			battles, err = counters.Count(r.Context(), battleCounter)
			if err == nil {
				writeJSON(w, http.StatusOK, xiangqidto.Success(StatsView{Users: users, Battles: battles, LocalConn: hub.Len()}))
				return
			}
		}
		obslog.L().Warn("http_stats_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, xiangqidto.Fail(xiangqidto.CodeInternal, ""))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
