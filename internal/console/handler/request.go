package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/infra/auth"
)

// RequestService Описываем, что нам нужно от движка подтверждений
type RequestService interface {
	Create(ctx context.Context, operationType, targetAddress string, payload []byte, value string, requiredSignatures int) (*domain.Request, error)
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error)
	ListActive(ctx context.Context) ([]string, error)
	Execute(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reviewer string) error
}

// SignatureService — прием подписей со-подписантов
type SignatureService interface {
	Submit(ctx context.Context, id, principal string, signature []byte) error
}

type RequestHandler struct {
	service    RequestService
	signatures SignatureService
}

func NewRequestHandler(s RequestService, sigs SignatureService) *RequestHandler {
	return &RequestHandler{service: s, signatures: sigs}
}

type CreateRequestBody struct {
	OperationType      string          `json:"operation_type"`
	TargetAddress      string          `json:"target_address"`
	Payload            json.RawMessage `json:"payload"`
	Value              string          `json:"value"`
	RequiredSignatures int             `json:"required_signatures"`
}

// Create регистрирует новую заявку
// POST /v1/requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.OperationType == "" {
		http.Error(w, "operation_type is required", http.StatusBadRequest)
		return
	}

	req, err := h.service.Create(r.Context(),
		body.OperationType, body.TargetAddress, body.Payload, body.Value, body.RequiredSignatures)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(req)
}

// Get возвращает заявку целиком, включая собранные подписи
// GET /v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// ListActive отдает идентификаторы заявок, занимающих слоты лимита
// GET /v1/requests
func (h *RequestHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"active": ids, "count": len(ids)})
}

// GetSignatures возвращает карту подписей по заявке
// GET /v1/requests/{id}/signatures
func (h *RequestHandler) GetSignatures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sigs, err := h.service.GetSignatures(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sigs)
}

type SubmitSignatureBody struct {
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"` // base64 в JSON
}

// Submit принимает подпись со-подписанта
// POST /v1/requests/{id}/signatures
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body SubmitSignatureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Подписантом считаем авторизованного оператора, если тело его не уточняет
	signer := body.Signer
	if signer == "" {
		signer = auth.OperatorID(r.Context())
	}
	if signer == "" {
		http.Error(w, "signer is required", http.StatusBadRequest)
		return
	}

	if err := h.signatures.Submit(r.Context(), id, signer, body.Signature); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Execute запускает исполнение одобренной заявки
// POST /v1/requests/{id}/execute
func (h *RequestHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Execute(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reject фиксирует вето оператора
// POST /v1/requests/{id}/reject
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reviewer := auth.OperatorID(r.Context())
	if err := h.service.Reject(r.Context(), id, reviewer); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError переводит ошибки движка в HTTP-статусы.
// Карта соответствий едина для всех обработчиков заявок.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrThresholdOutOfRange),
		errors.Is(err, domain.ErrInvalidSignature):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCapacityReached):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrNotApproved),
		errors.Is(err, domain.ErrDelayNotElapsed),
		errors.Is(err, domain.ErrDuplicateSignature),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyFinalized):
		status = http.StatusConflict
	}

	http.Error(w, err.Error(), status)
}
