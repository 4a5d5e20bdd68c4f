package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/quorumgate/internal/domain"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error)
}

// ActiveLister подмешивает в сводку живое число активных заявок из движка
type ActiveLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

type DashboardHandler struct {
	service DashboardService
	active  ActiveLister
}

func NewDashboardHandler(s DashboardService, a ActiveLister) *DashboardHandler {
	return &DashboardHandler{service: s, active: a}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetGlobalStats(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	if ids, err := h.active.ListActive(r.Context()); err == nil {
		stats.ActiveRequests = len(ids)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
