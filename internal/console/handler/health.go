package handler

import (
	"context"
	"net/http"
	"time"
)

// StreamStats — счётчики подписчиков websocket.
type StreamStats interface {
	Count() int
	Users() []string
}

type HealthChecker interface {
	Health(ctx context.Context) bool
}

type HealthHandler struct {
	gateway HealthChecker
	stream  StreamStats
	mock    bool
	now     func() time.Time
}

// NewHealthHandler: mock=true — шлюз подменён заглушкой, в ответе так и пишем.
func NewHealthHandler(gw HealthChecker, stream StreamStats, mock bool) *HealthHandler {
	return &HealthHandler{gateway: gw, stream: stream, mock: mock, now: time.Now}
}

// ServeHTTP обрабатывает GET /health. Недоступный шлюз не делает сервис нездоровым.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gw := "disconnected"
	switch {
	case h.mock:
		gw = "mock"
	case h.gateway.Health(r.Context()):
		gw = "connected"
	}

	writeData(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC(),
		"gateway":   gw,
		"websocket": map[string]any{
			"status":         "running",
			"connections":    h.stream.Count(),
			"connectedUsers": len(h.stream.Users()),
		},
	})
}
