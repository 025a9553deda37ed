package stream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra/auth"
	"github.com/xela07ax/mission-control/internal/stream"
)

type frame struct {
	Type    stream.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

type HubPublicTestSuite struct {
	suite.Suite

	jwt *auth.JWTManager
	hub *stream.Hub
	srv *httptest.Server
	cfg stream.Config
}

func (s *HubPublicTestSuite) SetupTest() {
	var err error
	s.jwt, err = auth.NewHMACManager([]byte("test-secret-test-secret-test-secret"), time.Hour)
	s.Require().NoError(err)

	s.cfg = stream.Config{PingInterval: time.Second, WriteTimeout: time.Second, SendBuffer: 16}
	s.start()
}

func (s *HubPublicTestSuite) start() {
	s.hub = stream.NewHub(s.cfg, nil, zap.NewNop())
	s.srv = httptest.NewServer(stream.NewHandler(s.hub, s.jwt, zap.NewNop()))
}

func (s *HubPublicTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.hub.Shutdown(ctx)
	s.srv.Close()
}

func (s *HubPublicTestSuite) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *HubPublicTestSuite) token(userID, username string, role domain.Role) string {
	tok, _, err := s.jwt.IssueToken(userID, username, role)
	s.Require().NoError(err)
	return tok
}

func (s *HubPublicTestSuite) dial(token string) *websocket.Conn {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(""), h)
	s.Require().NoError(err)
	return conn
}

func (s *HubPublicTestSuite) waitCount(n int) {
	s.Require().Eventually(func() bool { return s.hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func (s *HubPublicTestSuite) read(conn *websocket.Conn) frame {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)
	var f frame
	s.Require().NoError(json.Unmarshal(data, &f))
	return f
}

func (s *HubPublicTestSuite) TestHandshakeRejection() {
	expired, _, err := s.jwt.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		IssueToken("user-1", "alice", domain.RoleViewer)
	s.Require().NoError(err)

	tests := []struct {
		name   string
		header string
		query  string
	}{
		{name: "no credential"},
		{name: "malformed header", header: "Bearer not-a-jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "malformed query token", query: "token=garbage"},
		{name: "non bearer scheme", header: "Basic dXNlcjpwYXNz"},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Authorization", tc.header)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(tc.query), h)
			s.Require().ErrorIs(err, websocket.ErrBadHandshake)
			s.Nil(conn)
			s.Require().NotNil(resp)
			s.Equal(http.StatusUnauthorized, resp.StatusCode)
			s.Zero(s.hub.Count())
			s.Zero(s.hub.Broadcast(stream.Message{Type: stream.TypeHeartbeat, Payload: stream.HeartbeatPayload{}}))
		})
	}
}

func (s *HubPublicTestSuite) TestTokenInQuery() {
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("token="+s.token("user-1", "alice", domain.RoleViewer)), nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.waitCount(1)
	s.Equal(1, s.hub.CountForUser("user-1"))
}

func (s *HubPublicTestSuite) TestRegistryUnderSameIdentity() {
	tok := s.token("user-1", "alice", domain.RoleOperator)
	c1 := s.dial(tok)
	c2 := s.dial(tok)
	other := s.dial(s.token("user-2", "bob", domain.RoleViewer))
	defer other.Close()

	s.waitCount(3)
	s.Equal(2, s.hub.CountForUser("user-1"))
	s.Equal([]string{"user-1", "user-2"}, s.hub.Users())

	s.Require().NoError(c1.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	c1.Close()
	s.waitCount(2)
	s.Equal(1, s.hub.CountForUser("user-1"))

	c2.Close()
	s.waitCount(1)
	s.Zero(s.hub.CountForUser("user-1"))
	s.Equal([]string{"user-2"}, s.hub.Users())
}

func (s *HubPublicTestSuite) TestBroadcastFidelity() {
	conns := []*websocket.Conn{
		s.dial(s.token("user-1", "alice", domain.RoleAdmin)),
		s.dial(s.token("user-1", "alice", domain.RoleAdmin)),
		s.dial(s.token("user-3", "carol", domain.RoleViewer)),
	}
	for _, c := range conns {
		defer c.Close()
	}
	s.waitCount(3)

	uid := "user-9"
	entry := audit.Entry{ID: "e-1", Seq: 7, Timestamp: time.Now().UTC(), UserID: &uid, Action: audit.ActionAgentStop, Resource: "agent:main", Result: audit.ResultSuccess}
	delivered := s.hub.Broadcast(stream.Message{Type: stream.TypeAuditNew, Payload: stream.AuditPayload{Entry: entry, Timestamp: time.Now().UnixMilli()}})
	s.Equal(3, delivered)

	for _, c := range conns {
		f := s.read(c)
		s.Equal(stream.TypeAuditNew, f.Type)

		var p stream.AuditPayload
		s.Require().NoError(json.Unmarshal(f.Payload, &p))
		s.Equal("e-1", p.Entry.ID)
		s.Equal(uint64(7), p.Entry.Seq)
		s.Equal(audit.ActionAgentStop, p.Entry.Action)
		s.Require().NotNil(p.Entry.UserID)
		s.Equal(uid, *p.Entry.UserID)
		s.Positive(p.Timestamp)
	}
}

func (s *HubPublicTestSuite) TestSendToUser() {
	mine := s.dial(s.token("user-1", "alice", domain.RoleAdmin))
	defer mine.Close()
	theirs := s.dial(s.token("user-2", "bob", domain.RoleAdmin))
	defer theirs.Close()
	s.waitCount(2)

	n := s.hub.SendToUser("user-1", stream.Message{Type: stream.TypeError, Payload: stream.ErrorPayload{Code: "X", Message: "only you"}})
	s.Equal(1, n)
	s.Equal(stream.TypeError, s.read(mine).Type)

	s.Zero(s.hub.SendToUser("nobody", stream.Message{Type: stream.TypeHeartbeat}))
	s.Zero(s.hub.SendToUser("", stream.Message{Type: stream.TypeHeartbeat}))
}

func (s *HubPublicTestSuite) TestAgentAndSessionMessages() {
	conn := s.dial(s.token("user-1", "alice", domain.RoleViewer))
	defer conn.Close()
	s.waitCount(1)

	s.hub.BroadcastAgentStatus("main", domain.StatusBusy)
	f := s.read(conn)
	s.Equal(stream.TypeAgentStatus, f.Type)
	var st stream.AgentStatusPayload
	s.Require().NoError(json.Unmarshal(f.Payload, &st))
	s.Equal("main", st.AgentID)
	s.Equal(domain.StatusBusy, st.Status)

	s.hub.BroadcastSessionActivity("main", "sess-1", "hello")
	f = s.read(conn)
	s.Equal(stream.TypeSessionActivity, f.Type)
	var act stream.SessionActivityPayload
	s.Require().NoError(json.Unmarshal(f.Payload, &act))
	s.Equal("sess-1", act.SessionID)
	s.Equal("hello", act.LastMessage)
}

func (s *HubPublicTestSuite) TestZeroSubscribers() {
	s.NotPanics(func() {
		s.hub.BroadcastEntry(audit.Entry{ID: "x"})
		s.Zero(s.hub.SendHeartbeat())
	})
}

func (s *HubPublicTestSuite) TestHeartbeatLoop() {
	s.TearDownTest()
	s.cfg.HeartbeatInterval = 20 * time.Millisecond
	s.start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	conn := s.dial(s.token("user-1", "alice", domain.RoleViewer))
	defer conn.Close()

	f := s.read(conn)
	s.Equal(stream.TypeHeartbeat, f.Type)
	var p stream.HeartbeatPayload
	s.Require().NoError(json.Unmarshal(f.Payload, &p))
	s.Positive(p.Timestamp)
}

func (s *HubPublicTestSuite) TestDeadConnectionIsReaped() {
	s.TearDownTest()
	s.cfg.PingInterval = 30 * time.Millisecond
	s.start()

	// Клиент не читает, значит и pong не отправляет
	silent := s.dial(s.token("user-1", "alice", domain.RoleViewer))
	defer silent.Close()
	s.waitCount(1)

	s.Eventually(func() bool { return s.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *HubPublicTestSuite) TestLiveConnectionSurvivesPings() {
	s.TearDownTest()
	s.cfg.PingInterval = 30 * time.Millisecond
	s.start()

	conn := s.dial(s.token("user-1", "alice", domain.RoleViewer))
	defer conn.Close()
	// Чтение обрабатывает ping и отвечает pong
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	s.waitCount(1)

	time.Sleep(200 * time.Millisecond)
	s.Equal(1, s.hub.Count())
}

func (s *HubPublicTestSuite) TestShutdownClosesWithGoingAway() {
	conn := s.dial(s.token("user-1", "alice", domain.RoleViewer))
	defer conn.Close()
	s.waitCount(1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(s.hub.Shutdown(ctx))
	s.Zero(s.hub.Count())

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, stream.CloseGoingAway), "got %v", err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.token("user-1", "alice", domain.RoleViewer))
	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(""), h)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *HubPublicTestSuite) TestRecorderFansOutAfterAppend() {
	store, err := audit.NewStore(context.Background())
	s.Require().NoError(err)
	rec := audit.NewRecorder(store, zap.NewNop(), s.hub)

	conn := s.dial(s.token("user-1", "alice", domain.RoleAdmin))
	defer conn.Close()
	s.waitCount(1)

	rec.Record(context.Background(), audit.Input{Action: audit.ActionLogin, Resource: "auth", Result: audit.ResultSuccess, Details: "password=hunter2"})

	f := s.read(conn)
	s.Require().Equal(stream.TypeAuditNew, f.Type)
	var p stream.AuditPayload
	s.Require().NoError(json.Unmarshal(f.Payload, &p))
	s.NotContains(p.Entry.Details, "hunter2")

	page, err := store.Query(context.Background(), audit.Filter{})
	s.Require().NoError(err)
	s.Require().Equal(1, page.Total)
	s.Equal(page.Entries[0].ID, p.Entry.ID)
}

func TestHubPublicTestSuite(t *testing.T) {
	suite.Run(t, new(HubPublicTestSuite))
}
