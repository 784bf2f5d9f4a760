package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tably/call-service/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrEndpointGone marks a permanent delivery failure: the push service no
// longer knows the endpoint, so the subscription should be removed.
var ErrEndpointGone = errors.New("push endpoint gone")

type Transport interface {
	Send(ctx context.Context, subscription models.DeviceSubscription, payload []byte) error
}

type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	Timeout         time.Duration
}

type webPushTransport struct {
	cfg    WebPushConfig
	client *http.Client
}

func NewWebPushTransport(cfg WebPushConfig) Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &webPushTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *webPushTransport) Send(ctx context.Context, subscription models.DeviceSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: subscription.P256dh,
			Auth:   subscription.Auth,
		},
	}, &webpush.Options{
		Subscriber:      t.cfg.Subscriber,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             t.cfg.TTL,
		HTTPClient:      t.client,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrEndpointGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push endpoint rejected request: status %d", resp.StatusCode)
	}
	return nil
}
