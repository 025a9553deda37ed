package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/infra"
)

type relayEnvelope struct {
	Origin string      `json:"origin"`
	Entry  audit.Entry `json:"entry"`
}

// Relay связывает несколько инстансов консоли: локальные записи уходят в Redis Pub/Sub,
// чужие — рассылаются своим подписчикам. Свои сообщения отсекаются по origin.
type Relay struct {
	rdb     redis.UniversalClient
	sink    audit.Broadcaster
	channel string
	origin  string
	logger  *zap.Logger

	out       chan audit.Entry
	ready     chan struct{}
	readyOnce sync.Once

	retryDelay time.Duration
}

func NewRelay(rdb redis.UniversalClient, sink audit.Broadcaster, logger *zap.Logger) *Relay {
	return &Relay{
		rdb:        rdb,
		sink:       sink,
		channel:    infra.RedisChanAuditEvents,
		origin:     uuid.NewString(),
		logger:     logger.With(zap.String("mod", "stream_relay")),
		out:        make(chan audit.Entry, 1024),
		ready:      make(chan struct{}),
		retryDelay: 5 * time.Second,
	}
}

// Ready закрывается после первой успешной подписки.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// BroadcastEntry ставит запись в очередь публикации. Не блокирует: при переполнении запись
// остаётся только локальной.
func (r *Relay) BroadcastEntry(e audit.Entry) {
	select {
	case r.out <- e:
	default:
		r.logger.Warn("relay queue full, entry not published", zap.String("id", e.ID))
	}
}

// Run публикует и слушает до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.publishLoop(ctx)
	}()
	r.listen(ctx)
	wg.Wait()
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.out:
			data, err := json.Marshal(relayEnvelope{Origin: r.origin, Entry: e})
			if err != nil {
				r.logger.Error("encode relay envelope", zap.Error(err))
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.rdb.Publish(pubCtx, r.channel, data).Err(); err != nil {
				r.logger.Warn("relay publish failed", zap.String("id", e.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// listen — "живучая" подписка: переподключается при обрыве, пока жив ctx.
func (r *Relay) listen(ctx context.Context) {
	for {
		pubsub := r.rdb.Subscribe(ctx, r.channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to subscribe", zap.String("chan", r.channel), zap.Error(err))
			if !sleepCtx(ctx, r.retryDelay) {
				return
			}
			continue
		}
		r.readyOnce.Do(func() { close(r.ready) })
		r.logger.Info("relay subscribed", zap.String("chan", r.channel), zap.String("origin", r.origin))

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идём на переподключение
				}
				r.handle(msg.Payload)
			}
		}

		_ = pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (r *Relay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Error("invalid relay payload", zap.String("payload", payload), zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.sink.BroadcastEntry(env.Entry)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
