package models

import "time"

// DeviceSubscription is one registered Web Push endpoint for a waiter.
// A waiter may hold several, one per device or browser profile.
type DeviceSubscription struct {
	SubscriptionID string     `json:"subscription_id"`
	WaiterID       string     `json:"waiter_id"`
	Endpoint       string     `json:"endpoint"`
	P256dh         string     `json:"p256dh"`
	Auth           string     `json:"auth"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}
