package audit

import "time"

// AuditEvent — запись о переходе жизненного цикла заявки для журнала аудита
type AuditEvent struct {
	ID        string                 `json:"id"`         // UUID события
	Name      string                 `json:"name"`       // RequestCreated, RequestApproved, ...
	RequestID string                 `json:"request_id"` // Какая заявка
	Payload   map[string]interface{} `json:"payload"`    // Детали перехода
	Timestamp time.Time              `json:"timestamp"`
}
