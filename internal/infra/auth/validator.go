package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/mission-control/internal/domain"
)

var (
	ErrNoToken      = errors.New("authorization token required")
	ErrTokenExpired = errors.New("token has expired")
	ErrInvalidToken = errors.New("invalid token")
)

const Issuer = "mission-control"

// JWTManager подписывает и проверяет токены. HS256 с общим секретом по умолчанию,
// RS256 если в конфиге заданы ключи.
type JWTManager struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
	now       func() time.Time
}

func NewHMACManager(secret []byte, ttl time.Duration) (*JWTManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	return &JWTManager{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret, ttl: ttl, now: time.Now}, nil
}

// NewRSAManager: priv может быть nil, тогда менеджер только проверяет токены.
func NewRSAManager(priv *rsa.PrivateKey, pub *rsa.PublicKey, ttl time.Duration) (*JWTManager, error) {
	if pub == nil {
		return nil, fmt.Errorf("rsa public key is required")
	}
	m := &JWTManager{method: jwt.SigningMethodRS256, verifyKey: pub, ttl: ttl, now: time.Now}
	if priv != nil {
		m.signKey = priv
	}
	return m, nil
}

// WithClock подменяет время выпуска и проверки (тесты).
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *JWTManager) TTL() time.Duration { return m.ttl }

// IssueToken выпускает токен для пользователя.
func (m *JWTManager) IssueToken(userID, username string, role domain.Role) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, fmt.Errorf("token signing is not configured")
	}
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.ttl)
	claims := &domain.CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken реализует TokenValidator. Принимает токен с префиксом "Bearer " и без.
func (m *JWTManager) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenStr, &domain.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.verifyKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*domain.CustomClaims)
	if !ok || claims.UserID == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	return claims, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
