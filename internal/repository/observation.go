package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

type ObservationRepository struct {
	pool *pgxpool.Pool
}

func NewObservationRepository(pool *pgxpool.Pool) *ObservationRepository {
	return &ObservationRepository{pool: pool}
}

func (r *ObservationRepository) Append(ctx context.Context, o *model.Observation) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO observations
			(monitor_id, status, response_time, status_code, error_message, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		o.MonitorID, string(o.Status), o.ResponseTimeMs, o.StatusCode, o.Error, o.CheckedAt,
	).Scan(&o.ID)
}

func (r *ObservationRepository) Latest(ctx context.Context, monitorID int64) (*model.Observation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, monitor_id, status, response_time, status_code, error_message, checked_at
		FROM observations
		WHERE monitor_id = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT 1`, monitorID)
	o, err := scanObservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// ListRecent returns the newest observations of a monitor owned by ownerID.
func (r *ObservationRepository) ListRecent(ctx context.Context, ownerID, monitorID int64, limit int) ([]model.Observation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.monitor_id, o.status, o.response_time, o.status_code, o.error_message, o.checked_at
		FROM observations o
		JOIN monitors m ON m.id = o.monitor_id
		WHERE o.monitor_id = $1 AND m.user_id = $2
		ORDER BY o.checked_at DESC, o.id DESC
		LIMIT $3`, monitorID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// RecentStatuses returns, for every active monitor, its newest statuses up to
// its alert threshold. Observations from before the monitor's last state
// reset are ignored.
func (r *ObservationRepository) RecentStatuses(ctx context.Context) ([]model.StatusHistory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT monitor_id, alert_threshold, status
		FROM (
			SELECT o.monitor_id, m.alert_threshold, o.status,
				ROW_NUMBER() OVER (PARTITION BY o.monitor_id ORDER BY o.checked_at DESC, o.id DESC) AS rn
			FROM observations o
			JOIN monitors m ON m.id = o.monitor_id
			WHERE m.is_active
			  AND (m.state_reset_at IS NULL OR o.checked_at > m.state_reset_at)
		) recent
		WHERE rn <= GREATEST(alert_threshold, 1)
		ORDER BY monitor_id, rn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flat []statusRow
	for rows.Next() {
		var sr statusRow
		var status string
		if err := rows.Scan(&sr.monitorID, &sr.threshold, &status); err != nil {
			return nil, err
		}
		sr.status = model.Status(status)
		flat = append(flat, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupStatuses(flat), nil
}

// DeleteOlderThan removes observations strictly older than cutoff.
func (r *ObservationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM observations WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type statusRow struct {
	monitorID int64
	threshold int
	status    model.Status
}

// groupStatuses folds rows ordered by (monitor, newest first) into one
// history per monitor.
func groupStatuses(rows []statusRow) []model.StatusHistory {
	var out []model.StatusHistory
	for _, r := range rows {
		if n := len(out); n == 0 || out[n-1].MonitorID != r.monitorID {
			out = append(out, model.StatusHistory{MonitorID: r.monitorID, Threshold: r.threshold})
		}
		last := &out[len(out)-1]
		last.Statuses = append(last.Statuses, r.status)
	}
	return out
}

func scanObservation(row scanner) (*model.Observation, error) {
	var o model.Observation
	var status string
	if err := row.Scan(
		&o.ID, &o.MonitorID, &status, &o.ResponseTimeMs, &o.StatusCode, &o.Error, &o.CheckedAt,
	); err != nil {
		return nil, err
	}
	o.Status = model.Status(status)
	return &o, nil
}
