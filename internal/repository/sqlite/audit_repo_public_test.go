package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/repository/sqlite"
)

type SQLitePublicTestSuite struct {
	suite.Suite

	ctx  context.Context
	path string
	repo *sqlite.AuditRepo
}

func (s *SQLitePublicTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "data", "audit.db")

	repo, err := sqlite.Open(s.path)
	s.Require().NoError(err)
	s.repo = repo
}

func (s *SQLitePublicTestSuite) TearDownTest() {
	if s.repo != nil {
		s.Require().NoError(s.repo.Close())
	}
}

func (s *SQLitePublicTestSuite) TestWriteLoadDelete() {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	uid, name := "user-1", "alice"

	batch := []audit.Entry{
		{ID: "a", Seq: 1, Timestamp: base, UserID: &uid, Username: &name, Action: audit.ActionLogin, Resource: "auth", Result: audit.ResultSuccess},
		{ID: "b", Seq: 2, Timestamp: base.Add(time.Hour), Action: audit.ActionAgentStop, Resource: "agent:main", Result: audit.ResultDenied, Details: "no access"},
		{ID: "c", Seq: 3, Timestamp: base.Add(2 * time.Hour), Action: audit.ActionLogout, Resource: "auth", Result: audit.ResultSuccess},
	}
	s.Require().NoError(s.repo.WriteBatch(s.ctx, batch))
	s.Require().NoError(s.repo.WriteBatch(s.ctx, batch[:1]))
	s.Require().NoError(s.repo.WriteBatch(s.ctx, nil))

	loaded, err := s.repo.Load(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(loaded, 3)
	s.Equal([]string{"a", "b", "c"}, []string{loaded[0].ID, loaded[1].ID, loaded[2].ID})
	s.Require().NotNil(loaded[0].UserID)
	s.Equal(uid, *loaded[0].UserID)
	s.Nil(loaded[1].UserID)
	s.Equal("no access", loaded[1].Details)
	s.True(base.Equal(loaded[0].Timestamp))
	s.Equal(uint64(3), loaded[2].Seq)

	removed, err := s.repo.DeleteBefore(s.ctx, base.Add(90*time.Minute))
	s.Require().NoError(err)
	s.Equal(2, removed)

	s.Require().NoError(s.repo.Truncate(s.ctx))
	loaded, err = s.repo.Load(s.ctx)
	s.Require().NoError(err)
	s.Empty(loaded)
}

func (s *SQLitePublicTestSuite) TestBacksStoreAcrossRestart() {
	store, err := audit.NewStore(s.ctx, audit.WithBackend(s.repo))
	s.Require().NoError(err)

	for _, a := range []audit.Action{audit.ActionLogin, audit.ActionAgentMessage, audit.ActionLogout} {
		_, err := store.Append(s.ctx, audit.Input{Action: a, Resource: "auth", Result: audit.ResultSuccess})
		s.Require().NoError(err)
	}
	s.Require().NoError(store.Close(s.ctx))
	s.Require().NoError(s.repo.Close())

	reopened, err := sqlite.Open(s.path)
	s.Require().NoError(err)
	s.repo = reopened

	restored, err := audit.NewStore(s.ctx, audit.WithBackend(reopened))
	s.Require().NoError(err)
	defer restored.Close(s.ctx)

	page, err := restored.Query(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Equal(3, page.Total)
	s.Equal(audit.ActionLogout, page.Entries[0].Action)
	s.Equal(audit.ActionLogin, page.Entries[2].Action)

	// Новые записи продолжают последовательность
	e, err := restored.Append(s.ctx, audit.Input{Action: audit.ActionLogin, Result: audit.ResultSuccess})
	s.Require().NoError(err)
	s.Equal(uint64(4), e.Seq)
}

func TestSQLitePublicTestSuite(t *testing.T) {
	suite.Run(t, new(SQLitePublicTestSuite))
}
