package ledger

import "fmt"

// CallError оборачивает любой сбой внешней системы. Локальное состояние при
// таком сбое не меняется — заявка остается retryable, повтор решает вызывающий.
type CallError struct {
	Op    string // какой вызов упал: "execute", "add_signature", ...
	Cause error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Cause)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}
