package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type CommandPublicTestSuite struct {
	suite.Suite

	dir    string
	config string
}

func (s *CommandPublicTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.config = filepath.Join(s.dir, "config.yaml")
	body := fmt.Sprintf(`
auth:
  jwt_secret: cmd-test-secret
  bcrypt_cost: 4
users:
  storage: file
  path: %s
agent_keys:
  storage: file
  path: %s
audit:
  storage: file
  path: %s
logger:
  level: error
`, filepath.Join(s.dir, "users.json"), filepath.Join(s.dir, "agent-keys.json"), filepath.Join(s.dir, "audit.json"))
	s.Require().NoError(os.WriteFile(s.config, []byte(body), 0o600))
}

func (s *CommandPublicTestSuite) run(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", s.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (s *CommandPublicTestSuite) TestCreateAdminAndCleanup() {
	out, err := s.run("create-admin", "-u", "root", "-e", "root@example.com", "-p", "rootpass1")
	s.Require().NoError(err, out)
	s.Contains(out, "Created admin root")
	s.FileExists(filepath.Join(s.dir, "users.json"))

	_, err = s.run("create-admin", "-u", "root", "-e", "root@example.com", "-p", "rootpass1")
	s.ErrorContains(err, "already exists")

	// user.created попал в журнал и переживает перезапуск
	out, err = s.run("audit", "cleanup", "--days", "1")
	s.Require().NoError(err, out)
	s.Contains(out, "Removed 0 entries older than 1 days, 1 left")
}

func (s *CommandPublicTestSuite) TestCreateAdminValidation() {
	_, err := s.run("create-admin", "-u", "x", "-e", "root@example.com", "-p", "rootpass1")
	s.ErrorContains(err, "invalid admin account")

	_, err = s.run("create-admin", "-u", "root", "-e", "not-an-email", "-p", "rootpass1")
	s.ErrorContains(err, "invalid admin account")
}

func (s *CommandPublicTestSuite) TestCreateAgentKey() {
	out, err := s.run("create-agent-key", "-n", "openclaw-agent-1", "--expires-days", "30", "--meta", "nodeId=node-7")
	s.Require().NoError(err, out)
	s.Contains(out, "Agent API key created")
	s.Contains(out, "nodeId=node-7")
	s.Regexp(`\n  mc_[0-9a-f]{32}\n`, out)

	raw, err := os.ReadFile(filepath.Join(s.dir, "agent-keys.json"))
	s.Require().NoError(err)
	s.Contains(string(raw), "openclaw-agent-1")
	s.Contains(string(raw), "keyHash")

	// Бессрочный ключ и отказ на слишком длинный срок
	out, err = s.run("create-agent-key", "-n", "forever-agent", "--expires-days", "0")
	s.Require().NoError(err, out)
	s.Contains(out, "Expires:  never")

	_, err = s.run("create-agent-key", "-n", "too-long", "--expires-days", "5000")
	s.ErrorContains(err, "--expires-days")
	_, err = s.run("create-agent-key", "-n", "ab")
	s.ErrorContains(err, "invalid agent key")

	// Выпуск ключа попал в журнал
	out, err = s.run("audit", "cleanup", "--days", "1")
	s.Require().NoError(err, out)
	s.Contains(out, "2 left")
}

func (s *CommandPublicTestSuite) TestAuditClearNeedsConfirmation() {
	_, err := s.run("audit", "clear")
	s.ErrorContains(err, "--yes")

	out, err := s.run("audit", "clear", "--yes")
	s.Require().NoError(err)
	s.Contains(out, "Cleared 0 entries")
}

func TestCommandPublicTestSuite(t *testing.T) {
	suite.Run(t, new(CommandPublicTestSuite))
}
