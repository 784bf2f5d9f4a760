package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tably/call-service/internal/models"
	"tably/call-service/internal/store"
)

type fakeSubscriptionStore struct {
	mu      sync.Mutex
	subs    map[string][]models.DeviceSubscription
	removed []string
	touched []string
}

func (f *fakeSubscriptionStore) UpsertSubscription(ctx context.Context, input store.SubscribeInput) (models.DeviceSubscription, error) {
	return models.DeviceSubscription{}, nil
}

func (f *fakeSubscriptionStore) ListSubscriptions(ctx context.Context, waiterID string) ([]models.DeviceSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[waiterID], nil
}

func (f *fakeSubscriptionStore) DeleteSubscription(ctx context.Context, waiterID, subscriptionID string) error {
	return nil
}

func (f *fakeSubscriptionStore) RemoveSubscriptions(ctx context.Context, subscriptionIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, subscriptionIDs...)
	return nil
}

func (f *fakeSubscriptionStore) TouchSubscriptions(ctx context.Context, subscriptionIDs []string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, subscriptionIDs...)
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []string
	errBy map[string]error
	panic map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, subscription models.DeviceSubscription, payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, subscription.SubscriptionID)
	shouldPanic := f.panic[subscription.SubscriptionID]
	err := f.errBy[subscription.SubscriptionID]
	f.mu.Unlock()
	if shouldPanic {
		panic("transport exploded")
	}
	return err
}

func subscription(id, waiterID string) models.DeviceSubscription {
	return models.DeviceSubscription{
		SubscriptionID: id,
		WaiterID:       waiterID,
		Endpoint:       "https://push.example.net/send/" + id,
		P256dh:         "p256dh-" + id,
		Auth:           "auth-" + id,
	}
}

func testCall() models.Call {
	return models.Call{
		CallID:       "call-1",
		RestaurantID: "rest-1",
		TableID:      "table-1",
		Status:       models.StatusPending,
		RequestedAt:  time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC),
	}
}

func TestNotifyDeliversToAllDevices(t *testing.T) {
	subs := &fakeSubscriptionStore{subs: map[string][]models.DeviceSubscription{
		"w1": {subscription("s1", "w1")},
		"w2": {subscription("s2", "w2")},
	}}
	transport := &fakeTransport{}
	sender := NewSender(subs, transport, time.Second)

	result := sender.Notify(context.Background(), testCall(), "12", []string{"w1", "w2"})

	if result.Attempted != 2 || result.Delivered != 2 || result.Failed != 0 || result.InvalidRemoved != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(subs.touched) != 2 {
		t.Fatalf("expected 2 touched subscriptions, got %v", subs.touched)
	}
}

func TestNotifyNoSubscriptions(t *testing.T) {
	subs := &fakeSubscriptionStore{subs: map[string][]models.DeviceSubscription{}}
	transport := &fakeTransport{}
	sender := NewSender(subs, transport, time.Second)

	result := sender.Notify(context.Background(), testCall(), "12", []string{"w1"})

	if result != (Result{}) {
		t.Fatalf("expected zero result, got %+v", result)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no sends, got %v", transport.sent)
	}
}

func TestNotifyRemovesGoneEndpoints(t *testing.T) {
	subs := &fakeSubscriptionStore{subs: map[string][]models.DeviceSubscription{
		"w1": {subscription("s1", "w1"), subscription("s2", "w1")},
	}}
	transport := &fakeTransport{errBy: map[string]error{"s2": ErrEndpointGone}}
	sender := NewSender(subs, transport, time.Second)

	result := sender.Notify(context.Background(), testCall(), "12", []string{"w1"})

	if result.Attempted != 2 || result.Delivered != 1 || result.Failed != 1 || result.InvalidRemoved != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(subs.removed) != 1 || subs.removed[0] != "s2" {
		t.Fatalf("expected s2 removed, got %v", subs.removed)
	}
	if len(subs.touched) != 1 || subs.touched[0] != "s1" {
		t.Fatalf("expected s1 touched, got %v", subs.touched)
	}
}

func TestNotifyKeepsSubscriptionOnTransientFailure(t *testing.T) {
	subs := &fakeSubscriptionStore{subs: map[string][]models.DeviceSubscription{
		"w1": {subscription("s1", "w1")},
	}}
	transport := &fakeTransport{errBy: map[string]error{"s1": errors.New("connection reset")}}
	sender := NewSender(subs, transport, time.Second)

	result := sender.Notify(context.Background(), testCall(), "12", []string{"w1"})

	if result.Attempted != 1 || result.Delivered != 0 || result.Failed != 1 || result.InvalidRemoved != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(subs.removed) != 0 {
		t.Fatalf("transient failure must not remove subscriptions, got %v", subs.removed)
	}
}

func TestNotifyRecoversTransportPanic(t *testing.T) {
	subs := &fakeSubscriptionStore{subs: map[string][]models.DeviceSubscription{
		"w1": {subscription("s1", "w1"), subscription("s2", "w1")},
	}}
	transport := &fakeTransport{panic: map[string]bool{"s1": true}}
	sender := NewSender(subs, transport, time.Second)

	result := sender.Notify(context.Background(), testCall(), "12", []string{"w1"})

	if result.Attempted != 2 || result.Delivered != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBuildPayloadCollapsesByCallID(t *testing.T) {
	call := testCall()
	payload := buildPayload(call, "7")

	if payload.Tag != call.CallID {
		t.Fatalf("expected tag %q, got %q", call.CallID, payload.Tag)
	}
	if payload.Data.CallID != call.CallID || payload.Data.TableID != call.TableID {
		t.Fatalf("unexpected payload data: %+v", payload.Data)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["title"] != "Table 7 needs service" {
		t.Fatalf("unexpected title: %v", decoded["title"])
	}
}

func TestBuildPayloadFallsBackToTableID(t *testing.T) {
	call := testCall()
	payload := buildPayload(call, "")
	if payload.Title != "Table table-1 needs service" {
		t.Fatalf("unexpected title: %q", payload.Title)
	}
}
