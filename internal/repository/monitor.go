package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

const monitorColumns = `m.id, m.user_id, COALESCE(u.email, ''), m.url, m.interval_minutes,
	m.alert_threshold, m.is_active, m.last_checked_at, m.created_at`

type MonitorRepository struct {
	pool *pgxpool.Pool
}

func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListDue returns active monitors whose interval has elapsed at now, never
// checked ones first.
func (r *MonitorRepository) ListDue(ctx context.Context, now time.Time) ([]model.Monitor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+monitorColumns+`
		FROM monitors m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.is_active
		  AND (m.last_checked_at IS NULL
		       OR m.last_checked_at <= $1::timestamptz - make_interval(mins => m.interval_minutes))
		ORDER BY m.last_checked_at ASC NULLS FIRST, m.id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMonitors(rows)
}

func (r *MonitorRepository) ListActive(ctx context.Context) ([]model.Monitor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+monitorColumns+`
		FROM monitors m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.is_active
		ORDER BY m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// Get returns a monitor only if it belongs to ownerID.
func (r *MonitorRepository) Get(ctx context.Context, ownerID, id int64) (*model.Monitor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+monitorColumns+`
		FROM monitors m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = $1 AND m.user_id = $2`, id, ownerID)
	m, err := scanMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *MonitorRepository) MarkChecked(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE monitors SET last_checked_at = $2 WHERE id = $1`, id, at)
	return err
}

// Update applies a validated patch to a monitor owned by ownerID and returns
// the updated row.
func (r *MonitorRepository) Update(ctx context.Context, ownerID, id int64, patch model.MonitorPatch) (*model.Monitor, error) {
	if patch.Empty() {
		return r.Get(ctx, ownerID, id)
	}

	query, args := buildMonitorUpdate(ownerID, id, patch)
	var updatedID int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&updatedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update monitor %d: %w", id, err)
	}
	return r.Get(ctx, ownerID, updatedID)
}

// buildMonitorUpdate renders a patch to a parameterized UPDATE. Column names
// come from a fixed list; only values travel as arguments.
func buildMonitorUpdate(ownerID, id int64, patch model.MonitorPatch) (string, []any) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.IntervalMinutes != nil {
		add("interval_minutes", *patch.IntervalMinutes)
	}
	if patch.AlertThreshold != nil {
		add("alert_threshold", *patch.AlertThreshold)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if patch.ResetsAlertState() {
		sets = append(sets, "state_reset_at = now()")
	}

	args = append(args, id, ownerID)
	query := fmt.Sprintf(`UPDATE monitors SET %s WHERE id = $%d AND user_id = $%d RETURNING id`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	return query, args
}

func scanMonitor(row scanner) (*model.Monitor, error) {
	var m model.Monitor
	if err := row.Scan(
		&m.ID, &m.OwnerID, &m.OwnerEmail, &m.URL, &m.IntervalMinutes,
		&m.AlertThreshold, &m.IsActive, &m.LastCheckedAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMonitors(rows pgx.Rows) ([]model.Monitor, error) {
	var monitors []model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}
