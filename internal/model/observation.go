package model

import "time"

type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Observation is one probe outcome. Immutable once written.
type Observation struct {
	ID             int64     `json:"id"`
	MonitorID      int64     `json:"monitor_id"`
	Status         Status    `json:"status"`
	ResponseTimeMs *int      `json:"response_time"`
	StatusCode     *int      `json:"status_code"`
	Error          *string   `json:"error_message"`
	CheckedAt      time.Time `json:"timestamp"`
}

// Alert records a monitor crossing its consecutive-failure threshold.
type Alert struct {
	ID          int64     `json:"id"`
	MonitorID   int64     `json:"monitor_id"`
	Reason      string    `json:"reason"`
	Error       *string   `json:"error_message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// StatusHistory is the tail of a monitor's observation log, newest first,
// used to rebuild alert state after a restart.
type StatusHistory struct {
	MonitorID int64
	Threshold int
	Statuses  []Status
}
