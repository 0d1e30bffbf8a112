package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

// utcDay renders a timestamptz column as its UTC calendar day.
func utcDay(column string) string {
	return `to_char((` + column + ` AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD')`
}

// AnalyticsRepository runs the grouped rollups behind the analytics API.
// Every query is restricted to monitors owned by the given user.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

func (r *AnalyticsRepository) MonitorCounts(ctx context.Context, ownerID int64) (model.MonitorCounts, error) {
	var c model.MonitorCounts
	rows, err := r.pool.Query(ctx,
		`SELECT id, is_active FROM monitors WHERE user_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var active bool
		if err := rows.Scan(&id, &active); err != nil {
			return model.MonitorCounts{}, err
		}
		c.Total++
		if active {
			c.Active++
		}
		c.MonitorIDs = append(c.MonitorIDs, id)
	}
	return c, rows.Err()
}

func (r *AnalyticsRepository) CheckTotals(ctx context.Context, ownerID int64, since time.Time) (model.CheckTotals, error) {
	var t model.CheckTotals
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE o.status = 'UP'),
			AVG(o.response_time)::float8
		FROM observations o
		JOIN monitors m ON m.id = o.monitor_id
		WHERE m.user_id = $1 AND o.checked_at >= $2`, ownerID, since,
	).Scan(&t.Total, &t.Successful, &t.AvgResponseMs)
	return t, err
}

// MonitorCheckTotals is CheckTotals for a single monitor owned by ownerID.
func (r *AnalyticsRepository) MonitorCheckTotals(ctx context.Context, ownerID, monitorID int64, since time.Time) (model.CheckTotals, error) {
	var t model.CheckTotals
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE o.status = 'UP'),
			AVG(o.response_time)::float8
		FROM observations o
		JOIN monitors m ON m.id = o.monitor_id
		WHERE m.user_id = $1 AND o.monitor_id = $2 AND o.checked_at >= $3`, ownerID, monitorID, since,
	).Scan(&t.Total, &t.Successful, &t.AvgResponseMs)
	return t, err
}

func (r *AnalyticsRepository) AlertCount(ctx context.Context, ownerID int64, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		FROM alerts a
		JOIN monitors m ON m.id = a.monitor_id
		WHERE m.user_id = $1 AND a.triggered_at >= $2`, ownerID, since,
	).Scan(&n)
	return n, err
}

func (r *AnalyticsRepository) DailyChecks(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyChecks, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+utcDay("o.checked_at")+` AS day,
			COUNT(*) FILTER (WHERE o.status = 'UP'),
			COUNT(*)
		FROM observations o
		JOIN monitors m ON m.id = o.monitor_id
		WHERE m.user_id = $1 AND o.checked_at >= $2
		GROUP BY day
		ORDER BY day ASC`, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyChecks
	for rows.Next() {
		var d model.DailyChecks
		if err := rows.Scan(&d.Date, &d.Successful, &d.Total); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepository) DailyResponseTimes(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyResponseTimes, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+utcDay("o.checked_at")+` AS day,
			AVG(o.response_time)::float8,
			MIN(o.response_time),
			MAX(o.response_time)
		FROM observations o
		JOIN monitors m ON m.id = o.monitor_id
		WHERE m.user_id = $1 AND o.checked_at >= $2 AND o.response_time IS NOT NULL
		GROUP BY day
		ORDER BY day ASC`, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyResponseTimes
	for rows.Next() {
		var d model.DailyResponseTimes
		if err := rows.Scan(&d.Date, &d.AvgMs, &d.MinMs, &d.MaxMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepository) DailyAlerts(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyAlerts, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+utcDay("a.triggered_at")+` AS day, COUNT(*)
		FROM alerts a
		JOIN monitors m ON m.id = a.monitor_id
		WHERE m.user_id = $1 AND a.triggered_at >= $2
		GROUP BY day
		ORDER BY day ASC`, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyAlerts
	for rows.Next() {
		var d model.DailyAlerts
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
