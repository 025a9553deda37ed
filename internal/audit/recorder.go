package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/xela07ax/mission-control/internal/infra/auth"
	"go.uber.org/zap"
)

// Broadcaster получает каждую успешно добавленную запись. Реализация не должна блокировать.
type Broadcaster interface {
	BroadcastEntry(e Entry)
}

// Recorder — единственная точка входа для записи событий аудита из бизнес-кода.
type Recorder struct {
	store        *Store
	broadcasters []Broadcaster
	logger       *zap.Logger
}

func NewRecorder(store *Store, logger *zap.Logger, bc ...Broadcaster) *Recorder {
	return &Recorder{
		store:        store,
		broadcasters: bc,
		logger:       logger.With(zap.String("mod", "audit_recorder")),
	}
}

// Record — fire-and-forget. Запись в памяти синхронная (порядок вызовов сохраняется),
// I/O уходит в буфер, рассылка не блокирует. Любые ошибки и паники глотаются и логируются:
// бизнес-операция не должна падать из-за аудита.
func (r *Recorder) Record(ctx context.Context, in Input) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("audit record panicked", zap.Any("panic", p), zap.String("action", string(in.Action)))
		}
	}()

	// Контекст запроса может отмениться сразу после ответа, запись от этого теряться не должна
	e, err := r.store.Append(context.WithoutCancel(ctx), in)
	if err != nil {
		r.logger.Error("audit record failed", zap.String("action", string(in.Action)), zap.Error(err))
		return
	}
	r.broadcast(e)
}

// RecordSync добавляет запись, рассылает её и ждёт, пока она окажется в бэкенде.
func (r *Recorder) RecordSync(ctx context.Context, in Input) (Entry, error) {
	e, err := r.store.Append(ctx, in)
	if err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	r.broadcast(e)
	if err := r.store.Flush(ctx); err != nil {
		return e, fmt.Errorf("flush audit entry: %w", err)
	}
	return e, nil
}

func (r *Recorder) broadcast(e Entry) {
	for _, b := range r.broadcasters {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("audit broadcast panicked", zap.Any("panic", p), zap.String("id", e.ID))
				}
			}()
			b.BroadcastEntry(e)
		}()
	}
}

// FromRequest собирает Input из запроса: актор из claims (если есть), IP и User-Agent.
func FromRequest(req *http.Request, action Action, resource string, result Result, details string) Input {
	in := Input{
		Action:    action,
		Resource:  resource,
		Result:    result,
		Details:   details,
		IPAddress: StrPtr(ClientIP(req)),
		UserAgent: StrPtr(req.UserAgent()),
	}
	if c, ok := auth.ClaimsFromContext(req.Context()); ok {
		in.UserID, in.Username = Actor(c.UserID, c.Username)
	}
	return in
}

// ClientIP: X-Forwarded-For (первый адрес), затем X-Real-IP, затем адрес сокета.
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
