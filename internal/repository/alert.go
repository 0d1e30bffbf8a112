package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

// AlertRepository is append-only; alerts are never updated and survive
// observation retention.
type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func (r *AlertRepository) Append(ctx context.Context, a *model.Alert) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO alerts (monitor_id, reason, error_message, triggered_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		a.MonitorID, a.Reason, a.Error, a.TriggeredAt,
	).Scan(&a.ID)
}

func (r *AlertRepository) ListRecent(ctx context.Context, ownerID, monitorID int64, limit int) ([]model.Alert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.monitor_id, a.reason, a.error_message, a.triggered_at
		FROM alerts a
		JOIN monitors m ON m.id = a.monitor_id
		WHERE a.monitor_id = $1 AND m.user_id = $2
		ORDER BY a.triggered_at DESC, a.id DESC
		LIMIT $3`, monitorID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.MonitorID, &a.Reason, &a.Error, &a.TriggeredAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
