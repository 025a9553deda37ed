package stream_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/stream"
)

type sink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *sink) BroadcastEntry(e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *sink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.ID)
	}
	return out
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newRelay := func() (*stream.Relay, *sink) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		s := &sink{}
		return stream.NewRelay(rdb, s, zap.NewNop()), s
	}

	a, sinkA := newRelay()
	b, sinkB := newRelay()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, r := range []*stream.Relay{a, b} {
		wg.Add(1)
		go func(r *stream.Relay) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	for _, r := range []*stream.Relay{a, b} {
		select {
		case <-r.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not subscribe")
		}
	}

	a.BroadcastEntry(audit.Entry{ID: "from-a", Action: audit.ActionLogin, Result: audit.ResultSuccess})
	b.BroadcastEntry(audit.Entry{ID: "from-b", Action: audit.ActionLogout, Result: audit.ResultSuccess})

	require.Eventually(t, func() bool { return len(sinkB.ids()) == 1 && len(sinkA.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Своё сообщение инстанс повторно не рассылает
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"from-a"}, sinkB.ids())
	require.Equal(t, []string{"from-b"}, sinkA.ids())
}

func TestRelayIgnoresGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := &sink{}
	r := stream.NewRelay(rdb, s, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	<-r.Ready()

	mr.Publish("mc:audit:events", "{not json")
	mr.Publish("mc:audit:events", `{"origin":"other","entry":{"id":"ok","action":"user.login","result":"success"}}`)

	require.Eventually(t, func() bool { return len(s.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"ok"}, s.ids())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayMirrorsRemoteEntriesBeforeBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())

	storeA, err := audit.NewStore(ctx)
	require.NoError(t, err)
	storeB, err := audit.NewStore(ctx)
	require.NoError(t, err)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdbA.Close()
		_ = rdbB.Close()
	})

	// hub инстанса B: в момент рассылки запись уже должна находиться запросом
	var mu sync.Mutex
	var totals []int
	hubB := &sink{}
	checkB := broadcasterFunc(func(e audit.Entry) {
		p, err := storeB.Query(context.Background(), audit.Filter{})
		if err == nil {
			mu.Lock()
			totals = append(totals, p.Total)
			mu.Unlock()
		}
		hubB.BroadcastEntry(e)
	})

	relayA := stream.NewRelay(rdbA, audit.NewMirror(storeA, zap.NewNop(), &sink{}), zap.NewNop())
	relayB := stream.NewRelay(rdbB, audit.NewMirror(storeB, zap.NewNop(), checkB), zap.NewNop())
	recA := audit.NewRecorder(storeA, zap.NewNop(), relayA)

	var wg sync.WaitGroup
	for _, r := range []*stream.Relay{relayA, relayB} {
		wg.Add(1)
		go func(r *stream.Relay) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
		<-r.Ready()
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	recA.Record(ctx, audit.Input{ID: "shared-id", Action: audit.ActionAgentStop, Resource: "agent:main", Result: audit.ResultSuccess})

	require.Eventually(t, func() bool { return len(hubB.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"shared-id"}, hubB.ids())

	mu.Lock()
	require.Equal(t, []int{1}, totals)
	mu.Unlock()

	p, err := storeB.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, p.Entries, 1)
	require.Equal(t, "shared-id", p.Entries[0].ID)
}

type broadcasterFunc func(audit.Entry)

func (f broadcasterFunc) BroadcastEntry(e audit.Entry) { f(e) }
