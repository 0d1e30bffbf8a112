package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

const dayLayout = "2006-01-02"

var ErrQueryFailed = errors.New("analytics query failed")

// QueryError reports a failed rollup. It matches ErrQueryFailed so callers
// can tell a failure apart from an empty result.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("analytics %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrQueryFailed }

type rollupStore interface {
	MonitorCounts(ctx context.Context, ownerID int64) (model.MonitorCounts, error)
	CheckTotals(ctx context.Context, ownerID int64, since time.Time) (model.CheckTotals, error)
	MonitorCheckTotals(ctx context.Context, ownerID, monitorID int64, since time.Time) (model.CheckTotals, error)
	AlertCount(ctx context.Context, ownerID int64, since time.Time) (int, error)
	DailyChecks(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyChecks, error)
	DailyResponseTimes(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyResponseTimes, error)
	DailyAlerts(ctx context.Context, ownerID int64, since time.Time) ([]model.DailyAlerts, error)
}

// AlertStates reports live incident state from the alert evaluator.
type AlertStates interface {
	AlertedCount(monitorIDs []int64) int
}

// Aggregator computes owner-scoped rollups. It holds no pipeline state.
type Aggregator struct {
	store  rollupStore
	alerts AlertStates
	now    func() time.Time
}

func New(store rollupStore, alerts AlertStates) *Aggregator {
	return &Aggregator{store: store, alerts: alerts, now: time.Now}
}

func (a *Aggregator) Overview(ctx context.Context, ownerID int64, r model.Range) (model.Overview, error) {
	since := r.Start(a.now())

	counts, err := a.store.MonitorCounts(ctx, ownerID)
	if err != nil {
		return model.Overview{}, &QueryError{Op: "overview monitors", Err: err}
	}
	totals, err := a.store.CheckTotals(ctx, ownerID, since)
	if err != nil {
		return model.Overview{}, &QueryError{Op: "overview checks", Err: err}
	}
	alerts, err := a.store.AlertCount(ctx, ownerID, since)
	if err != nil {
		return model.Overview{}, &QueryError{Op: "overview alerts", Err: err}
	}

	ov := model.Overview{
		TotalMonitors:    counts.Total,
		ActiveMonitors:   counts.Active,
		TotalChecks:      totals.Total,
		SuccessfulChecks: totals.Successful,
		FailedChecks:     totals.Total - totals.Successful,
		OverallUptime:    uptimePercentage(totals.Successful, totals.Total),
		AvgResponseTime:  roundedAverage(totals.AvgResponseMs),
		TotalAlerts:      alerts,
	}
	if a.alerts != nil {
		ov.ActiveIncidents = a.alerts.AlertedCount(counts.MonitorIDs)
	}
	return ov, nil
}

// UptimeHistory returns one row per UTC day from the first to the last day
// with data. Days in between without checks report zero.
func (a *Aggregator) UptimeHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.UptimePoint, error) {
	rows, err := a.store.DailyChecks(ctx, ownerID, r.Start(a.now()))
	if err != nil {
		return []model.UptimePoint{}, &QueryError{Op: "uptime history", Err: err}
	}
	return fillUptime(rows), nil
}

// ResponseTimeHistory omits days without response times.
func (a *Aggregator) ResponseTimeHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.ResponseTimePoint, error) {
	rows, err := a.store.DailyResponseTimes(ctx, ownerID, r.Start(a.now()))
	if err != nil {
		return []model.ResponseTimePoint{}, &QueryError{Op: "response time history", Err: err}
	}

	out := make([]model.ResponseTimePoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.ResponseTimePoint{
			Date:            row.Date,
			AvgResponseTime: math.Round(row.AvgMs),
			MinResponseTime: row.MinMs,
			MaxResponseTime: row.MaxMs,
		})
	}
	return out, nil
}

// AlertHistory omits days without alerts.
func (a *Aggregator) AlertHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.AlertHistoryPoint, error) {
	rows, err := a.store.DailyAlerts(ctx, ownerID, r.Start(a.now()))
	if err != nil {
		return []model.AlertHistoryPoint{}, &QueryError{Op: "alert history", Err: err}
	}

	out := make([]model.AlertHistoryPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.AlertHistoryPoint{Date: row.Date, AlertCount: row.Count})
	}
	return out, nil
}

// MonitorStats summarizes a single monitor over all retained observations
// and over the last 24 hours. Ownership is checked by the caller.
func (a *Aggregator) MonitorStats(ctx context.Context, ownerID, monitorID int64) (model.MonitorStats, error) {
	all, err := a.store.MonitorCheckTotals(ctx, ownerID, monitorID, time.Time{})
	if err != nil {
		return model.MonitorStats{}, &QueryError{Op: "monitor stats", Err: err}
	}
	recent, err := a.store.MonitorCheckTotals(ctx, ownerID, monitorID, model.Range24h.Start(a.now()))
	if err != nil {
		return model.MonitorStats{}, &QueryError{Op: "monitor stats 24h", Err: err}
	}

	return model.MonitorStats{
		TotalChecks:      all.Total,
		SuccessfulChecks: all.Successful,
		FailedChecks:     all.Total - all.Successful,
		UptimePercentage: uptimePercentage(all.Successful, all.Total),
		AvgResponseTime:  roundedAverage(all.AvgResponseMs),
		Last24hChecks:    recent.Total,
		Last24hUptime:    uptimePercentage(recent.Successful, recent.Total),
	}, nil
}

// fillUptime converts daily rows to points and inserts zero-check days for
// gaps between the first and last day with data. Days before the first
// observation or after the last one in the range are omitted, so a monitor
// created mid-range is not reported as down before it existed.
func fillUptime(rows []model.DailyChecks) []model.UptimePoint {
	out := make([]model.UptimePoint, 0, len(rows))
	var prev time.Time
	for _, row := range rows {
		day, err := time.Parse(dayLayout, row.Date)
		if err == nil && !prev.IsZero() {
			for gap := prev.AddDate(0, 0, 1); gap.Before(day); gap = gap.AddDate(0, 0, 1) {
				out = append(out, model.UptimePoint{Date: gap.Format(dayLayout)})
			}
		}
		if err == nil {
			prev = day
		}
		out = append(out, model.UptimePoint{
			Date:             row.Date,
			UptimePercentage: uptimePercentage(row.Successful, row.Total),
			TotalChecks:      row.Total,
			SuccessfulChecks: row.Successful,
		})
	}
	return out
}

// uptimePercentage is successful/total*100 rounded to two decimals, or 0
// when there were no checks.
func uptimePercentage(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(successful)/float64(total)*10000) / 100
}

func roundedAverage(avg *float64) float64 {
	if avg == nil {
		return 0
	}
	return math.Round(*avg)
}
