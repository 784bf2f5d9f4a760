package models

import "time"

type Call struct {
	CallID          string     `json:"call_id"`
	RestaurantID    string     `json:"restaurant_id"`
	TableID         string     `json:"table_id"`
	WaiterID        *string    `json:"waiter_id,omitempty"`
	Status          string     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	TimeoutAt       time.Time  `json:"timeout_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	MissedAt        *time.Time `json:"missed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	ResponseSeconds *int64     `json:"response_seconds,omitempty"`
	RequestID       string     `json:"request_id,omitempty"`
}

const (
	StatusPending      = "pending"
	StatusAcknowledged = "acknowledged"
	StatusInProgress   = "in_progress"
	StatusCompleted    = "completed"
	StatusMissed       = "missed"
	StatusCancelled    = "cancelled"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusMissed, StatusCancelled:
		return true
	default:
		return false
	}
}
