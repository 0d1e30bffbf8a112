package model

import (
	"errors"
	"net/url"
	"time"
)

// Monitor is a user-owned HTTP endpoint checked on a fixed interval.
// Rows are owned by the CRUD layer; the pipeline only writes LastCheckedAt.
type Monitor struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"user_id"`
	OwnerEmail      string     `json:"-"`
	URL             string     `json:"url"`
	IntervalMinutes int        `json:"interval_minutes"`
	AlertThreshold  int        `json:"alert_threshold"`
	IsActive        bool       `json:"is_active"`
	LastCheckedAt   *time.Time `json:"last_checked_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsDue reports whether the check interval has elapsed since the last check.
func (m *Monitor) IsDue(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	if m.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*m.LastCheckedAt) >= time.Duration(m.IntervalMinutes)*time.Minute
}

var (
	ErrInvalidURL       = errors.New("url must be an absolute http or https url")
	ErrInvalidInterval  = errors.New("interval_minutes must be at least 1")
	ErrInvalidThreshold = errors.New("alert_threshold must be at least 1")
)

// MonitorPatch carries the optional fields of a monitor update. Nil fields
// are left untouched.
type MonitorPatch struct {
	URL             *string `json:"url,omitempty"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"`
	AlertThreshold  *int    `json:"alert_threshold,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
}

func (p MonitorPatch) Empty() bool {
	return p.URL == nil && p.IntervalMinutes == nil && p.AlertThreshold == nil && p.IsActive == nil
}

// ResetsAlertState reports whether the patch starts the monitor's failure
// history over: it is deactivated or pointed at a different URL.
func (p MonitorPatch) ResetsAlertState() bool {
	return p.URL != nil || (p.IsActive != nil && !*p.IsActive)
}

func (p MonitorPatch) Validate() error {
	if p.URL != nil {
		u, err := url.Parse(*p.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return ErrInvalidURL
		}
	}
	if p.IntervalMinutes != nil && *p.IntervalMinutes < 1 {
		return ErrInvalidInterval
	}
	if p.AlertThreshold != nil && *p.AlertThreshold < 1 {
		return ErrInvalidThreshold
	}
	return nil
}
