package domain

type GlobalStats struct {
	TotalEvents    int64            `json:"total_events"`
	ExecutedCount  int64            `json:"executed_count"`
	RejectedCount  int64            `json:"rejected_count"`
	ExpiredCount   int64            `json:"expired_count"`
	ApprovalRatio  float64          `json:"approval_ratio"`
	TopOperations  map[string]int64 `json:"top_operations"`
	ActiveRequests int              `json:"active_requests"`
}
