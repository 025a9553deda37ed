package domain

import "time"

// AgentKeyPrefix — префикс всех ключей агентов ("mc_" + 32 hex).
const AgentKeyPrefix = "mc_"

// AgentKey — API-ключ, с которым агент ходит в консоль (заголовок X-Agent-Key).
// Сам ключ не хранится, только bcrypt-хэш и короткий префикс для поиска.
type AgentKey struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	KeyHash     string            `json:"keyHash"`
	Prefix      string            `json:"prefix"` // Первые символы ключа, по ним сужается поиск
	CreatedAt   time.Time         `json:"createdAt"`
	LastUsedAt  *time.Time        `json:"lastUsedAt,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	IsActive    bool              `json:"isActive"`
	Permissions []string          `json:"permissions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Expired сообщает, истёк ли ключ к моменту now.
func (k *AgentKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// AgentKeyPublic — ключ без хэша.
type AgentKeyPublic struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Prefix      string            `json:"prefix"`
	CreatedAt   time.Time         `json:"createdAt"`
	LastUsedAt  *time.Time        `json:"lastUsedAt,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	IsActive    bool              `json:"isActive"`
	Permissions []string          `json:"permissions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (k *AgentKey) Public() AgentKeyPublic {
	return AgentKeyPublic{
		ID:          k.ID,
		Name:        k.Name,
		Prefix:      k.Prefix,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		ExpiresAt:   k.ExpiresAt,
		IsActive:    k.IsActive,
		Permissions: k.Permissions,
		Metadata:    k.Metadata,
	}
}

type CreateAgentKeyRequest struct {
	Name          string            `json:"name" validate:"required,min=3,max=100"`
	ExpiresInDays int               `json:"expiresInDays" validate:"omitempty,min=1,max=365"`
	Permissions   []string          `json:"permissions" validate:"omitempty,dive,min=1,max=100"`
	Metadata      map[string]string `json:"metadata" validate:"omitempty,max=20,dive,keys,min=1,max=50,endkeys,max=200"`
}

// CreatedAgentKey — ответ на создание. APIKey показывается один раз.
type CreatedAgentKey struct {
	AgentKeyPublic
	APIKey string `json:"apiKey"`
}
