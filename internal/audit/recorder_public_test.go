package audit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra/auth"
)

func newMemoryStore(t *testing.T) *audit.Store {
	t.Helper()
	store, err := audit.NewStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestRecordBroadcastsAfterAppend(t *testing.T) {
	store := newMemoryStore(t)

	// Broadcaster видит запись только когда она уже доступна запросам
	var visible bool
	bc := &captureBroadcaster{onEntry: func(e audit.Entry) {
		p, err := store.Query(context.Background(), audit.Filter{})
		visible = err == nil && p.Total == 1 && p.Entries[0].ID == e.ID
	}}
	rec := audit.NewRecorder(store, zap.NewNop(), bc)

	rec.Record(context.Background(), input("user-1", audit.ActionLogin, audit.ResultSuccess))

	got := bc.received()
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionLogin, got[0].Action)
	assert.True(t, visible)
}

func TestRecordSwallowsStoreErrors(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.Close(context.Background()))

	bc := &captureBroadcaster{}
	rec := audit.NewRecorder(store, zap.NewNop(), bc)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), input("u", audit.ActionLogout, audit.ResultSuccess))
	})
	assert.Empty(t, bc.received())
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	store := newMemoryStore(t)
	rec := audit.NewRecorder(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, input("u", audit.ActionLogout, audit.ResultSuccess))

	assert.Equal(t, 1, store.Count())
}

func TestRecordRecoversBroadcasterPanic(t *testing.T) {
	store := newMemoryStore(t)
	boom := &captureBroadcaster{onEntry: func(audit.Entry) { panic("boom") }}
	after := &captureBroadcaster{}
	rec := audit.NewRecorder(store, zap.NewNop(), boom, after)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), input("u", audit.ActionLogin, audit.ResultSuccess))
	})
	assert.Len(t, after.received(), 1)
}

func TestRecordSyncWaitsForBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	store := newDurableStore(t, backend, audit.BufferConfig{BatchSize: 100, FlushInterval: time.Hour})
	rec := audit.NewRecorder(store, zap.NewNop())

	e, err := rec.RecordSync(ctx, input("u", audit.ActionUserCreated, audit.ResultSuccess))
	require.NoError(t, err)

	got := backend.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
}

func TestRecordSyncReportsBackendFailure(t *testing.T) {
	backend := &fakeBackend{failWrite: true}
	store := newDurableStore(t, backend, audit.BufferConfig{BatchSize: 100, FlushInterval: time.Hour})
	rec := audit.NewRecorder(store, zap.NewNop())

	e, err := rec.RecordSync(context.Background(), input("u", audit.ActionUserCreated, audit.ResultSuccess))
	assert.ErrorIs(t, err, errBackendDown)
	assert.NotEmpty(t, e.ID) // В памяти запись есть
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request) *http.Request
		wantIP     string
		wantUserID *string
	}{
		{
			name: "forwarded for takes the first hop",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
				return r
			},
			wantIP: "203.0.113.7",
		},
		{
			name: "real ip header",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Real-IP", "198.51.100.2")
				return r
			},
			wantIP: "198.51.100.2",
		},
		{
			name:   "socket address",
			setup:  func(r *http.Request) *http.Request { return r },
			wantIP: "192.0.2.1",
		},
		{
			name: "actor from claims",
			setup: func(r *http.Request) *http.Request {
				c := &domain.CustomClaims{UserID: "user-9", Username: "nine", Role: domain.RoleAdmin}
				return r.WithContext(auth.WithClaims(r.Context(), c))
			},
			wantIP:     "192.0.2.1",
			wantUserID: audit.StrPtr("user-9"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/agents/main/stop", nil)
			r.Header.Set("User-Agent", "curl/8.0")
			r = tt.setup(r)

			in := audit.FromRequest(r, audit.ActionAgentStop, "agent:main", audit.ResultSuccess, "")
			require.NotNil(t, in.IPAddress)
			assert.Equal(t, tt.wantIP, *in.IPAddress)
			require.NotNil(t, in.UserAgent)
			assert.Equal(t, "curl/8.0", *in.UserAgent)
			assert.Equal(t, tt.wantUserID, in.UserID)
		})
	}
}

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   audit.Result
	}{
		{name: "success", status: http.StatusOK, want: audit.ResultSuccess},
		{name: "created", status: http.StatusCreated, want: audit.ResultSuccess},
		{name: "forbidden is denied", status: http.StatusForbidden, want: audit.ResultDenied},
		{name: "server error", status: http.StatusInternalServerError, want: audit.ResultFailure},
		{name: "not found", status: http.StatusNotFound, want: audit.ResultFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore(t)
			rec := audit.NewRecorder(store, zap.NewNop())

			r := chi.NewRouter()
			r.With(audit.HTTPMiddleware(rec, audit.ActionAgentRestart, func(r *http.Request) string {
				return "agent:" + chi.URLParam(r, "id")
			})).Post("/agents/{id}/restart", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/main/restart", nil))
			require.Equal(t, tt.status, w.Code)

			p, err := store.Query(context.Background(), audit.Filter{})
			require.NoError(t, err)
			require.Equal(t, 1, p.Total)
			assert.Equal(t, tt.want, p.Entries[0].Result)
			assert.Equal(t, "agent:main", p.Entries[0].Resource)
			assert.Equal(t, audit.ActionAgentRestart, p.Entries[0].Action)
		})
	}
}
