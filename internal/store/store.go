package store

import (
	"context"
	"time"

	"tably/call-service/internal/models"
)

type CreateCallInput struct {
	RequestID    string
	RestaurantID string
	TableID      string
	RequestedAt  time.Time
	Timeout      time.Duration
}

type CallActionInput struct {
	RestaurantID string
	CallID       string
	WaiterID     string
	OccurredAt   time.Time
}

// Filter values accepted by ListCalls.
const (
	FilterAll     = "all"
	FilterOpen    = "open"
	FilterPending = "pending"
	FilterMine    = "mine"
)

type ListCallsInput struct {
	RestaurantID string
	Filter       string
	WaiterID     string
	TableID      string
	Limit        int
}

type SubscribeInput struct {
	WaiterID  string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
}

type CallStore interface {
	CreateCall(ctx context.Context, input CreateCallInput) (models.Call, bool, error)
	GetCall(ctx context.Context, restaurantID, callID string) (models.Call, error)
	ListCalls(ctx context.Context, input ListCallsInput) ([]models.Call, error)
	AcknowledgeCall(ctx context.Context, input CallActionInput) (models.Call, error)
	StartService(ctx context.Context, input CallActionInput) (models.Call, error)
	CompleteCall(ctx context.Context, input CallActionInput) (models.Call, error)
	CancelCall(ctx context.Context, input CallActionInput) (models.Call, error)
	SweepMissed(ctx context.Context, restaurantID string) (int, error)
}

type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, input SubscribeInput) (models.DeviceSubscription, error)
	ListSubscriptions(ctx context.Context, waiterID string) ([]models.DeviceSubscription, error)
	DeleteSubscription(ctx context.Context, waiterID, subscriptionID string) error
	RemoveSubscriptions(ctx context.Context, subscriptionIDs []string) error
	TouchSubscriptions(ctx context.Context, subscriptionIDs []string, usedAt time.Time) error
}

// DirectoryStore reads state owned by the admin and auth services. The call
// service never writes through it.
type DirectoryStore interface {
	GetTable(ctx context.Context, restaurantID, tableID string) (models.Table, error)
	ListActiveWaiterIDs(ctx context.Context, restaurantID string) ([]string, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Store interface {
	CallStore
	SubscriptionStore
	DirectoryStore
}

type Session struct {
	SessionID    string
	WaiterID     string
	RestaurantID string
	Role         string
	ExpiresAt    time.Time
}

const (
	RoleWaiter = "waiter"
	RoleAdmin  = "admin"
)
