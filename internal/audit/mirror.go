package audit

import (
	"context"

	"go.uber.org/zap"
)

// Mirror принимает записи других инстансов (через relay): сначала кладёт их
// в локальный Store, и только потом отдаёт подписчикам. Так рассылаемая запись
// уже видна запросам к этому инстансу.
type Mirror struct {
	store        *Store
	broadcasters []Broadcaster
	logger       *zap.Logger
}

func NewMirror(store *Store, logger *zap.Logger, bc ...Broadcaster) *Mirror {
	return &Mirror{
		store:        store,
		broadcasters: bc,
		logger:       logger.With(zap.String("mod", "audit_mirror")),
	}
}

// BroadcastEntry реализует Broadcaster для relay.
func (m *Mirror) BroadcastEntry(remote Entry) {
	e, ok, err := m.store.Ingest(context.Background(), remote)
	if err != nil {
		m.logger.Error("ingest remote entry", zap.String("id", remote.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	for _, b := range m.broadcasters {
		b.BroadcastEntry(e)
	}
}
