package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra/auth"
)

type AuthPublicTestSuite struct {
	suite.Suite

	manager *auth.JWTManager
}

func (s *AuthPublicTestSuite) SetupTest() {
	m, err := auth.NewHMACManager([]byte("test-secret"), time.Hour)
	s.Require().NoError(err)
	s.manager = m
}

func (s *AuthPublicTestSuite) TestIssueAndVerify() {
	token, exp, err := s.manager.IssueToken("u-1", "alice", domain.RoleOperator)
	s.Require().NoError(err)
	s.WithinDuration(time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := s.manager.VerifyToken("Bearer " + token)
	s.Require().NoError(err)
	s.Equal("u-1", claims.UserID)
	s.Equal("alice", claims.Username)
	s.Equal(domain.RoleOperator, claims.Role)
	s.Equal(auth.Issuer, claims.Issuer)
}

func (s *AuthPublicTestSuite) TestVerifyFailures() {
	other, err := auth.NewHMACManager([]byte("other-secret"), time.Hour)
	s.Require().NoError(err)
	foreign, _, err := other.IssueToken("u-1", "alice", domain.RoleAdmin)
	s.Require().NoError(err)

	stale, _, err := s.manager.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		IssueToken("u-1", "alice", domain.RoleAdmin)
	s.Require().NoError(err)

	badRole, _, err := s.manager.IssueToken("u-1", "alice", "root")
	s.Require().NoError(err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: auth.ErrNoToken},
		{name: "bearer only", token: "Bearer ", want: auth.ErrNoToken},
		{name: "garbage", token: "not.a.jwt", want: auth.ErrInvalidToken},
		{name: "foreign signature", token: foreign, want: auth.ErrInvalidToken},
		{name: "expired", token: stale, want: auth.ErrTokenExpired},
		{name: "unknown role", token: badRole, want: auth.ErrInvalidToken},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			_, err := s.manager.VerifyToken(tc.token)
			s.Require().ErrorIs(err, tc.want)
			s.True(auth.IsAuthError(err))
		})
	}
}

func (s *AuthPublicTestSuite) TestRSA() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	s.Require().NoError(err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	priv, err := auth.ParseRSAPrivateKey(privPEM)
	s.Require().NoError(err)
	pub, err := auth.ParseRSAPublicKey(pubPEM)
	s.Require().NoError(err)

	signer, err := auth.NewRSAManager(priv, pub, time.Hour)
	s.Require().NoError(err)
	token, _, err := signer.IssueToken("u-2", "bob", domain.RoleViewer)
	s.Require().NoError(err)

	verifier, err := auth.NewRSAManager(nil, pub, time.Hour)
	s.Require().NoError(err)
	claims, err := verifier.VerifyToken(token)
	s.Require().NoError(err)
	s.Equal("bob", claims.Username)

	_, _, err = verifier.IssueToken("u-2", "bob", domain.RoleViewer)
	s.Error(err)

	// HS256 токен не проходит RS256 проверку
	hs, _, err := s.manager.IssueToken("u-2", "bob", domain.RoleViewer)
	s.Require().NoError(err)
	_, err = verifier.VerifyToken(hs)
	s.ErrorIs(err, auth.ErrInvalidToken)

	_, err = auth.ParseRSAPublicKey(nil)
	s.Error(err)
	_, err = auth.ParseRSAPrivateKey([]byte("junk"))
	s.Error(err)
}

func (s *AuthPublicTestSuite) TestTokenFromRequest() {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc"},
		{name: "query fallback", query: "?token=xyz", want: "xyz"},
		{name: "header wins over query", header: "Bearer abc", query: "?token=xyz", want: "abc"},
		{name: "non-bearer header", header: "Basic Zm9vOmJhcg==", query: "?token=xyz", want: ""},
		{name: "nothing", want: ""},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			r := httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			s.Equal(tc.want, auth.TokenFromRequest(r))
		})
	}
}

func (s *AuthPublicTestSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.False(body.Success)
	return body.Error.Code
}

func (s *AuthPublicTestSuite) TestMiddleware() {
	admin, _, err := s.manager.IssueToken("u-1", "alice", domain.RoleAdmin)
	s.Require().NoError(err)
	viewer, _, err := s.manager.IssueToken("u-2", "bob", domain.RoleViewer)
	s.Require().NoError(err)

	var seen *domain.CustomClaims
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := auth.NewMiddleware(s.manager, zap.NewNop())(auth.RequireRole(zap.NewNop(), domain.RoleAdmin)(final))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantErr  string
	}{
		{name: "no header", wantCode: http.StatusUnauthorized, wantErr: "NO_TOKEN"},
		{name: "wrong scheme", header: "Token abc", wantCode: http.StatusUnauthorized, wantErr: "INVALID_TOKEN"},
		{name: "bad token", header: "Bearer abc", wantCode: http.StatusUnauthorized, wantErr: "INVALID_TOKEN"},
		{name: "insufficient role", header: "Bearer " + viewer, wantCode: http.StatusForbidden, wantErr: "FORBIDDEN"},
		{name: "admin", header: "Bearer " + admin, wantCode: http.StatusNoContent},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			s.Equal(tc.wantCode, rec.Code)
			if tc.wantErr != "" {
				s.Equal(tc.wantErr, s.errorCode(rec))
				s.Nil(seen)
				return
			}
			s.Require().NotNil(seen)
			s.Equal("u-1", seen.UserID)
		})
	}
}

func (s *AuthPublicTestSuite) TestOptionalMiddleware() {
	token, _, err := s.manager.IssueToken("u-1", "alice", domain.RoleAdmin)
	s.Require().NoError(err)

	var seen *domain.CustomClaims
	h := auth.NewOptionalMiddleware(s.manager, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		seen = nil
		r := httptest.NewRequest(http.MethodPost, "/api/auth/register", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	rec := serve("")
	s.Equal(http.StatusNoContent, rec.Code)
	s.Nil(seen)

	rec = serve("Bearer " + token)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Require().NotNil(seen)
	s.Equal(domain.RoleAdmin, seen.Role)

	rec = serve("Bearer garbage")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("INVALID_TOKEN", s.errorCode(rec))
}

type stubAgentKeys map[string]domain.AgentKeyPublic

func (s stubAgentKeys) Authenticate(_ context.Context, apiKey string) (domain.AgentKeyPublic, error) {
	if apiKey == "mc_broken" {
		return domain.AgentKeyPublic{}, errors.New("storage down")
	}
	k, ok := s[apiKey]
	if !ok {
		return domain.AgentKeyPublic{}, fmt.Errorf("%w: unknown key", domain.ErrInvalidAgentKey)
	}
	return k, nil
}

func (s *AuthPublicTestSuite) TestAgentKeyMiddleware() {
	keys := stubAgentKeys{"mc_good": {ID: "k-1", Name: "openclaw-agent-1"}}

	var seen *domain.AgentKeyPublic
	h := auth.NewAgentKeyMiddleware(keys, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.AgentFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		key      string
		wantCode int
		wantErr  string
	}{
		{name: "no key", wantCode: http.StatusUnauthorized, wantErr: "AGENT_AUTH_REQUIRED"},
		{name: "unknown key", key: "mc_nope", wantCode: http.StatusUnauthorized, wantErr: "INVALID_AGENT_KEY"},
		{name: "storage error", key: "mc_broken", wantCode: http.StatusInternalServerError, wantErr: "AUTH_ERROR"},
		{name: "valid key", key: "mc_good", wantCode: http.StatusNoContent},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/api/agent/me", nil)
			if tc.key != "" {
				r.Header.Set(auth.AgentKeyHeader, tc.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			s.Equal(tc.wantCode, rec.Code)
			if tc.wantErr != "" {
				s.Equal(tc.wantErr, s.errorCode(rec))
				s.Nil(seen)
				return
			}
			s.Require().NotNil(seen)
			s.Equal("k-1", seen.ID)
		})
	}
}

func TestAuthPublicTestSuite(t *testing.T) {
	suite.Run(t, new(AuthPublicTestSuite))
}
