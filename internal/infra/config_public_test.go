package infra_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/xela07ax/mission-control/internal/infra"
)

type ConfigPublicTestSuite struct {
	suite.Suite

	dir string
}

func (s *ConfigPublicTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *ConfigPublicTestSuite) write(body string) string {
	path := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (s *ConfigPublicTestSuite) TestDefaults() {
	cfg, err := infra.LoadConfig(s.write("auth:\n  jwt_secret: test-secret\n"))
	s.Require().NoError(err)

	s.Equal(3001, cfg.Server.Port)
	s.Equal(24*time.Hour, cfg.Auth.TokenTTL)
	s.Equal("file", cfg.Audit.Storage)
	s.Equal("data/audit-logs.json", cfg.Audit.Path)
	s.Equal(90, cfg.Audit.RetentionDays)
	s.Equal("@daily", cfg.Audit.CleanupSchedule)
	s.Equal(time.Second, cfg.Audit.FlushInterval)
	s.Equal(30*time.Second, cfg.Stream.PingInterval)
	s.Equal("openclaw", cfg.Gateway.Binary)
	s.Equal(5*time.Second, cfg.Gateway.StatusTimeout)
	s.Equal(uint32(5), cfg.Gateway.CBFailures)
	s.Equal(5*time.Second, cfg.Cache.AgentsTTL)
	s.False(cfg.Redis.Enabled)
	s.Equal("json", cfg.Logger.Format)
}

func (s *ConfigPublicTestSuite) TestFileAndEnvOverride() {
	path := s.write(`
server:
  port: 8080
auth:
  jwt_secret: from-file
audit:
  storage: sqlite
  path: /tmp/audit.db
  retention_days: 30
gateway:
  use_mock: true
`)
	s.T().Setenv("SERVER_PORT", "9000")
	s.T().Setenv("AUTH_JWT_SECRET", "from-env")

	cfg, err := infra.LoadConfig(path)
	s.Require().NoError(err)

	s.Equal(9000, cfg.Server.Port)
	s.Equal("from-env", cfg.Auth.JWTSecret)
	s.Equal("sqlite", cfg.Audit.Storage)
	s.Equal(30, cfg.Audit.RetentionDays)
	s.True(cfg.Gateway.UseMock)
	s.Equal(":9000", cfg.Server.Addr())
}

func (s *ConfigPublicTestSuite) TestAuditPathFollowsStorage() {
	tests := []struct {
		name    string
		body    string
		wantPath string
	}{
		{name: "sqlite", body: "audit:\n  storage: sqlite\n", wantPath: "data/audit.db"},
		{name: "file", body: "audit:\n  storage: file\n", wantPath: "data/audit-logs.json"},
		{name: "memory", body: "audit:\n  storage: memory\n", wantPath: ""},
		{name: "explicit path wins", body: "audit:\n  storage: sqlite\n  path: /var/lib/mc/audit.sqlite\n", wantPath: "/var/lib/mc/audit.sqlite"},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			cfg, err := infra.LoadConfig(s.write("auth:\n  jwt_secret: x\n" + tc.body))
			s.Require().NoError(err)
			s.Equal(tc.wantPath, cfg.Audit.Path)
		})
	}
}

func (s *ConfigPublicTestSuite) TestKeyFromEnv() {
	s.T().Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := infra.LoadConfig(s.write("audit:\n  storage: memory\n"))
	s.Require().NoError(err)
	s.Equal([]byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func (s *ConfigPublicTestSuite) TestValidate() {
	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{
			name:     "when audit backend is unknown",
			body:     "auth:\n  jwt_secret: x\naudit:\n  storage: mongo\n",
			contains: "audit.storage",
		},
		{
			name:     "when postgres has no url",
			body:     "auth:\n  jwt_secret: x\naudit:\n  storage: postgres\n",
			contains: "database.url",
		},
		{
			name:     "when no signing material",
			body:     "server:\n  port: 1\n",
			contains: "jwt_secret",
		},
		{
			name:     "when retention is not positive",
			body:     "auth:\n  jwt_secret: x\naudit:\n  retention_days: 0\n",
			contains: "retention_days",
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			_, err := infra.LoadConfig(s.write(tc.body))
			s.Require().Error(err)
			s.Contains(err.Error(), tc.contains)
		})
	}
}

func (s *ConfigPublicTestSuite) TestMissingExplicitFile() {
	_, err := infra.LoadConfig(filepath.Join(s.dir, "absent.yaml"))
	s.Error(err)
}

func (s *ConfigPublicTestSuite) TestNewLogger() {
	for _, format := range []string{"json", "console"} {
		l, err := infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: format})
		s.Require().NoError(err)
		s.NotNil(l)
	}

	_, err := infra.NewLogger(infra.LoggerConfig{Level: "loud", Format: "json"})
	s.Error(err)
	_, err = infra.NewLogger(infra.LoggerConfig{Level: "info", Format: "xml"})
	s.Error(err)
}

func TestConfigPublicTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigPublicTestSuite))
}
