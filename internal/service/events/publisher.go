package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

// Kind is the type of an outward pipeline event.
type Kind string

const (
	KindObservation Kind = "observation"
	KindAlert       Kind = "alert"
	KindRecovery    Kind = "recovery"
)

// GlobalRoom receives every event regardless of owner.
const GlobalRoom = "monitors:all"

func UserRoom(ownerID int64) string {
	return fmt.Sprintf("user:%d", ownerID)
}

type Event struct {
	Kind    Kind
	Payload any
}

type ObservationPayload struct {
	MonitorID      int64        `json:"monitor_id"`
	URL            string       `json:"url"`
	Status         model.Status `json:"status"`
	ResponseTimeMs *int         `json:"response_time"`
	StatusCode     *int         `json:"status_code"`
	Error          *string      `json:"error_message"`
	CheckedAt      time.Time    `json:"timestamp"`
}

type AlertPayload struct {
	AlertID             int64     `json:"alert_id"`
	MonitorID           int64     `json:"monitor_id"`
	URL                 string    `json:"url"`
	Reason              string    `json:"reason"`
	Error               *string   `json:"error_message"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TriggeredAt         time.Time `json:"triggered_at"`
}

type RecoveryPayload struct {
	MonitorID      int64     `json:"monitor_id"`
	URL            string    `json:"url"`
	ResponseTimeMs *int      `json:"response_time"`
	RecoveredAt    time.Time `json:"recovered_at"`
}

// Broadcaster is the realtime transport.
type Broadcaster interface {
	Broadcast(room, kind string, payload any)
}

// Publisher delivers pipeline events to the owner's room and the global room.
// Delivery is fire-and-forget; nothing is queued for absent subscribers.
type Publisher struct {
	transport Broadcaster
}

func NewPublisher(transport Broadcaster) *Publisher {
	return &Publisher{transport: transport}
}

func (p *Publisher) Publish(ownerID int64, evt Event) {
	if p == nil || p.transport == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event broadcast panicked", "error", r, "kind", evt.Kind, "owner_id", ownerID)
		}
	}()

	p.transport.Broadcast(UserRoom(ownerID), string(evt.Kind), evt.Payload)
	p.transport.Broadcast(GlobalRoom, string(evt.Kind), evt.Payload)
}

func (p *Publisher) PublishObservation(m model.Monitor, o *model.Observation) {
	p.Publish(m.OwnerID, Event{Kind: KindObservation, Payload: ObservationPayload{
		MonitorID:      m.ID,
		URL:            m.URL,
		Status:         o.Status,
		ResponseTimeMs: o.ResponseTimeMs,
		StatusCode:     o.StatusCode,
		Error:          o.Error,
		CheckedAt:      o.CheckedAt,
	}})
}

func (p *Publisher) PublishAlert(m model.Monitor, a *model.Alert, failures int) {
	p.Publish(m.OwnerID, Event{Kind: KindAlert, Payload: AlertPayload{
		AlertID:             a.ID,
		MonitorID:           m.ID,
		URL:                 m.URL,
		Reason:              a.Reason,
		Error:               a.Error,
		ConsecutiveFailures: failures,
		TriggeredAt:         a.TriggeredAt,
	}})
}

func (p *Publisher) PublishRecovery(m model.Monitor, o *model.Observation) {
	p.Publish(m.OwnerID, Event{Kind: KindRecovery, Payload: RecoveryPayload{
		MonitorID:      m.ID,
		URL:            m.URL,
		ResponseTimeMs: o.ResponseTimeMs,
		RecoveredAt:    o.CheckedAt,
	}})
}
