package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "mc"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAuditEvents — новые записи аудита для рассылки подписчикам других инстансов.
	RedisChanAuditEvents = RedisNamespace + ":audit:events"
)

// CacheKey строит ключ кэша в пространстве проекта.
func CacheKey(name string) string {
	return fmt.Sprintf("%s:cache:%s", RedisNamespace, name)
}
