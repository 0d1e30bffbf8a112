package model

import (
	"errors"
	"fmt"
	"time"
)

// Range is the lookback window of an analytics query.
type Range string

const (
	Range24h Range = "24h"
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"

	DefaultRange = Range7d
)

var ErrInvalidRange = errors.New("invalid range")

// ParseRange accepts the enumerated range names. An empty string selects
// DefaultRange.
func ParseRange(s string) (Range, error) {
	switch r := Range(s); r {
	case "":
		return DefaultRange, nil
	case Range24h, Range7d, Range30d, Range90d:
		return r, nil
	default:
		return "", fmt.Errorf("%w %q: want one of 24h, 7d, 30d, 90d", ErrInvalidRange, s)
	}
}

func (r Range) Lookback() time.Duration {
	switch r {
	case Range24h:
		return 24 * time.Hour
	case Range30d:
		return 30 * 24 * time.Hour
	case Range90d:
		return 90 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Start returns the beginning of the window ending at now.
func (r Range) Start(now time.Time) time.Time {
	return now.Add(-r.Lookback())
}

type Overview struct {
	TotalMonitors    int     `json:"total_monitors"`
	ActiveMonitors   int     `json:"active_monitors"`
	TotalChecks      int     `json:"total_checks"`
	SuccessfulChecks int     `json:"successful_checks"`
	FailedChecks     int     `json:"failed_checks"`
	OverallUptime    float64 `json:"overall_uptime"`
	AvgResponseTime  float64 `json:"avg_response_time"`
	TotalAlerts      int     `json:"total_alerts"`
	ActiveIncidents  int     `json:"active_incidents"`
}

type UptimePoint struct {
	Date             string  `json:"date"`
	UptimePercentage float64 `json:"uptime_percentage"`
	TotalChecks      int     `json:"total_checks"`
	SuccessfulChecks int     `json:"successful_checks"`
}

type ResponseTimePoint struct {
	Date            string  `json:"date"`
	AvgResponseTime float64 `json:"avg_response_time"`
	MinResponseTime int     `json:"min_response_time"`
	MaxResponseTime int     `json:"max_response_time"`
}

type AlertHistoryPoint struct {
	Date       string `json:"date"`
	AlertCount int    `json:"alert_count"`
}

type MonitorStats struct {
	TotalChecks      int     `json:"total_checks"`
	SuccessfulChecks int     `json:"successful_checks"`
	FailedChecks     int     `json:"failed_checks"`
	UptimePercentage float64 `json:"uptime_percentage"`
	AvgResponseTime  float64 `json:"avg_response_time"`
	Last24hChecks    int     `json:"last_24h_checks"`
	Last24hUptime    float64 `json:"last_24h_uptime"`
}

// Raw rollup rows returned by the storage layer. Dates are UTC calendar days
// formatted as YYYY-MM-DD.

type MonitorCounts struct {
	Total      int
	Active     int
	MonitorIDs []int64
}

type CheckTotals struct {
	Total         int
	Successful    int
	AvgResponseMs *float64
}

type DailyChecks struct {
	Date       string
	Successful int
	Total      int
}

type DailyResponseTimes struct {
	Date  string
	AvgMs float64
	MinMs int
	MaxMs int
}

type DailyAlerts struct {
	Date  string
	Count int
}
