package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "quorumgate"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRequestEvents — канал трансляции переходов жизненного цикла заявок
	// (created/approved/executed/rejected/expired) для пассивных инстансов и UI.
	RedisChanRequestEvents = RedisNamespace + ":request-events"
)

// GetRequestLockKey Генератор ключей для распределенных блокировок (если нужны динамические)
func GetRequestLockKey(requestID string) string {
	return fmt.Sprintf("%s:lock:request:%s", RedisNamespace, requestID)
}
