package store

import "errors"

var (
	ErrTableNotFound        = errors.New("table not found")
	ErrCallNotFound         = errors.New("call not found")
	ErrCallClaimed          = errors.New("call already claimed")
	ErrNotAssigned          = errors.New("call assigned to different waiter")
	ErrInvalidState         = errors.New("invalid call state")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrAccessDenied         = errors.New("access denied")
)
