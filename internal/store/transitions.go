package store

import "tably/call-service/internal/models"

var transitionMap = map[string][]string{
	"acknowledge": {models.StatusPending},
	"start":       {models.StatusAcknowledged},
	"complete":    {models.StatusAcknowledged, models.StatusInProgress},
	"cancel":      {models.StatusPending},
	"miss":        {models.StatusPending},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
