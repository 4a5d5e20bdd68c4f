package domain

import (
	"time"
)

// Статусы State Machine заявки
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusExecuted RequestStatus = "EXECUTED"
	StatusExpired  RequestStatus = "EXPIRED"
)

// SignatureRecord — одна подпись со-подписанта.
// Ключом в мапе Request.Signatures служит идентификатор подписанта,
// поэтому дубликаты исключены на уровне структуры данных.
type SignatureRecord struct {
	Signer      string    `json:"signer"`
	Blob        []byte    `json:"blob"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Request — заявка на привилегированную операцию.
// Параметры операции (TargetAddress, Payload, Value) для движка непрозрачны:
// мы их не интерпретируем, а пересылаем в Ledger как есть при исполнении.
type Request struct {
	ID            string        `json:"id"`
	OperationType string        `json:"operation_type"` // например "key.rotate" или "param.update"
	TargetAddress string        `json:"target_address"`
	Payload       []byte        `json:"payload"`
	Value         string        `json:"value"`
	Status        RequestStatus `json:"status"`

	// Порог фиксируется при создании и больше не меняется
	RequiredSignatures int                        `json:"required_signatures"`
	Signatures         map[string]SignatureRecord `json:"signatures"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// CurrentSignatures — производный счетчик. Отдельного поля нет намеренно:
// инвариант currentSignatures == |signatures| выполняется по построению.
func (r *Request) CurrentSignatures() int {
	return len(r.Signatures)
}

// IsTerminal сообщает, покинула ли заявка активную фазу.
// Из терминального статуса переходов нет.
func (r *Request) IsTerminal() bool {
	switch r.Status {
	case StatusRejected, StatusExecuted, StatusExpired:
		return true
	}
	return false
}

// IsActive — заявка учитывается в лимите maxActiveRequests
func (r *Request) IsActive() bool {
	return r.Status == StatusPending || r.Status == StatusApproved
}

// ExpiredBy — единый предикат истечения для всех путей (lazy-проверка и фоновый sweep
// обязаны соглашаться друг с другом, поэтому предикат один).
func (r *Request) ExpiredBy(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CanTransitionTo проверяет правила конечного автомата:
// PENDING -> APPROVED -> EXECUTED (happy path),
// PENDING -> REJECTED, PENDING -> EXPIRED, APPROVED -> EXPIRED.
func (r *Request) CanTransitionTo(next RequestStatus) error {
	if r.IsTerminal() {
		return ErrAlreadyFinalized
	}

	switch r.Status {
	case StatusPending:
		switch next {
		case StatusApproved, StatusRejected, StatusExpired:
			return nil
		}
	case StatusApproved:
		switch next {
		case StatusExecuted, StatusExpired:
			return nil
		}
	}
	return ErrInvalidTransition
}

// Clone возвращает глубокую копию для кэша.
// Читатели получают снапшот и не могут порвать состояние стора.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Payload = append([]byte(nil), r.Payload...)
	cp.Signatures = make(map[string]SignatureRecord, len(r.Signatures))
	for signer, rec := range r.Signatures {
		rec.Blob = append([]byte(nil), rec.Blob...)
		cp.Signatures[signer] = rec
	}
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		cp.ApprovedAt = &at
	}
	return &cp
}
