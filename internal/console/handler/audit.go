package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/quorumgate/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает список событий аудита с поддержкой фильтрации
// GET /v1/audit?request_id=...&name=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	// Извлекаем фильтры из Query-параметров
	requestID := r.URL.Query().Get("request_id")
	name := r.URL.Query().Get("name")

	logs, err := h.service.FetchLogs(r.Context(), requestID, name)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
