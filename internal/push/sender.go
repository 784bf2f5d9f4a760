package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tably/call-service/internal/metrics"
	"tably/call-service/internal/models"
	"tably/call-service/internal/store"
)

// Result is the aggregate outcome of one fan-out. It is informational only:
// delivery failure never fails the lifecycle operation that triggered it.
type Result struct {
	Attempted      int `json:"attempted"`
	Delivered      int `json:"delivered"`
	Failed         int `json:"failed"`
	InvalidRemoved int `json:"invalid_removed"`
}

type Sender struct {
	subscriptions store.SubscriptionStore
	transport     Transport
	timeout       time.Duration
}

func NewSender(subscriptions store.SubscriptionStore, transport Transport, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		subscriptions: subscriptions,
		transport:     transport,
		timeout:       timeout,
	}
}

type notificationPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Tag   string          `json:"tag"`
	Data  notificationRef `json:"data"`
}

type notificationRef struct {
	CallID       string    `json:"call_id"`
	TableID      string    `json:"table_id"`
	RestaurantID string    `json:"restaurant_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Notify delivers one notification for the call to every registered device of
// the target waiters. Attempts run concurrently, each bounded by the
// per-attempt timeout; a dead or slow device never blocks its siblings.
// Endpoints reported permanently gone are removed in one batch afterwards.
func (s *Sender) Notify(ctx context.Context, call models.Call, tableLabel string, waiterIDs []string) Result {
	var result Result

	var subscriptions []models.DeviceSubscription
	for _, waiterID := range waiterIDs {
		list, err := s.subscriptions.ListSubscriptions(ctx, waiterID)
		if err != nil {
			log.Printf("push list subscriptions waiter=%s error: %v", waiterID, err)
			continue
		}
		subscriptions = append(subscriptions, list...)
	}
	if len(subscriptions) == 0 {
		return result
	}

	payload, err := json.Marshal(buildPayload(call, tableLabel))
	if err != nil {
		log.Printf("push payload call=%s error: %v", call.CallID, err)
		return result
	}

	type outcome struct {
		subscriptionID string
		err            error
	}
	outcomes := make(chan outcome, len(subscriptions))

	var wg sync.WaitGroup
	for _, subscription := range subscriptions {
		wg.Add(1)
		go func(subscription models.DeviceSubscription) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			outcomes <- outcome{
				subscriptionID: subscription.SubscriptionID,
				err:            s.send(sendCtx, subscription, payload),
			}
		}(subscription)
	}
	wg.Wait()
	close(outcomes)

	var delivered, gone []string
	for o := range outcomes {
		result.Attempted++
		metrics.PushAttemptsTotal.Inc()
		switch {
		case o.err == nil:
			result.Delivered++
			metrics.PushDeliveredTotal.Inc()
			delivered = append(delivered, o.subscriptionID)
		case errors.Is(o.err, ErrEndpointGone):
			result.Failed++
			metrics.PushFailedTotal.Inc()
			gone = append(gone, o.subscriptionID)
			log.Printf("push endpoint gone call=%s subscription=%s", call.CallID, o.subscriptionID)
		default:
			result.Failed++
			metrics.PushFailedTotal.Inc()
			log.Printf("push send call=%s subscription=%s error: %v", call.CallID, o.subscriptionID, o.err)
		}
	}

	if len(gone) > 0 {
		if err := s.subscriptions.RemoveSubscriptions(ctx, gone); err != nil {
			log.Printf("push cleanup call=%s error: %v", call.CallID, err)
		} else {
			result.InvalidRemoved = len(gone)
			metrics.PushSubscriptionsRemovedTotal.Add(float64(len(gone)))
		}
	}
	if len(delivered) > 0 {
		if err := s.subscriptions.TouchSubscriptions(ctx, delivered, time.Now().UTC()); err != nil {
			log.Printf("push touch call=%s error: %v", call.CallID, err)
		}
	}

	return result
}

// send shields the fan-out from a misbehaving transport: any panic for one
// device is converted into a per-device failure.
func (s *Sender) send(ctx context.Context, subscription models.DeviceSubscription, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push transport panic: %v", r)
		}
	}()
	return s.transport.Send(ctx, subscription, payload)
}

func buildPayload(call models.Call, tableLabel string) notificationPayload {
	label := tableLabel
	if label == "" {
		label = call.TableID
	}
	// tag = call id, so repeated deliveries for the same call collapse into
	// one visible notification on the client.
	return notificationPayload{
		Title: fmt.Sprintf("Table %s needs service", label),
		Body:  fmt.Sprintf("A customer at table %s requested a waiter.", label),
		Tag:   call.CallID,
		Data: notificationRef{
			CallID:       call.CallID,
			TableID:      call.TableID,
			RestaurantID: call.RestaurantID,
			RequestedAt:  call.RequestedAt,
		},
	}
}
