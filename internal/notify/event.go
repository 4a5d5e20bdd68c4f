package notify

import "time"

// Имена событий жизненного цикла заявки
const (
	EventRequestCreated  = "RequestCreated"
	EventRequestApproved = "RequestApproved"
	EventRequestExecuted = "RequestExecuted"
	EventRequestRejected = "RequestRejected"
	EventRequestExpired  = "RequestExpired"
)

// Event — факт перехода конечного автомата. Доставка best-effort:
// подписчики не могут ни заблокировать, ни провалить сам переход.
type Event struct {
	ID        string                 `json:"id"` // UUID события
	Name      string                 `json:"name"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
