package postgres

/*
Файл audit_repo.go — персистентность журнала аудита: пакетная вставка записей
о переходах жизненного цикла и выборки для консоли (журнал + сводная статистика).
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/quorumgate/internal/audit"
	"github.com/xela07ax/quorumgate/internal/domain"
)

// WriteBatch сохраняет пачку событий одним INSERT
func (r *Repo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 5
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5)

		payload, _ := json.Marshal(e.Payload)
		vals = append(vals, e.ID, e.Name, e.RequestID, payload, e.Timestamp)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, name, request_id, payload, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

// FetchLogs возвращает журнал с фильтрацией по заявке и/или имени события
func (r *Repo) FetchLogs(ctx context.Context, requestID, name string) ([]audit.AuditEvent, error) {
	query := `SELECT id, name, request_id, payload, timestamp FROM audit_events`

	var conds []string
	var args []interface{}
	if requestID != "" {
		args = append(args, requestID)
		conds = append(conds, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if name != "" {
		args = append(args, name)
		conds = append(conds, fmt.Sprintf("name = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT 200"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit events: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]audit.AuditEvent, 0)

	for rows.Next() {
		var e audit.AuditEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.RequestID, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		results = append(results, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// GetGlobalStats собирает сводку для дашборда из журнала аудита
func (r *Repo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	stats := &domain.GlobalStats{TopOperations: make(map[string]int64)}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE name = 'RequestExecuted'),
			COUNT(*) FILTER (WHERE name = 'RequestRejected'),
			COUNT(*) FILTER (WHERE name = 'RequestExpired')
		FROM audit_events`).Scan(
		&stats.TotalEvents,
		&stats.ExecutedCount,
		&stats.RejectedCount,
		&stats.ExpiredCount,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query stats: %w", err)
	}

	decided := stats.ExecutedCount + stats.RejectedCount + stats.ExpiredCount
	if decided > 0 {
		stats.ApprovalRatio = float64(stats.ExecutedCount) / float64(decided)
	}

	// Топ типов операций по созданным заявкам
	rows, err := r.pool.Query(ctx, `
		SELECT payload->>'operation_type', COUNT(*)
		FROM audit_events
		WHERE name = 'RequestCreated' AND payload->>'operation_type' IS NOT NULL
		GROUP BY 1 ORDER BY 2 DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query top operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op string
		var count int64
		if err := rows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan top operation: %w", err)
		}
		stats.TopOperations[op] = count
	}
	return stats, rows.Err()
}
