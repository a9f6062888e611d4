// Package push delivers notifications over the Web Push protocol and
// classifies the result into a closed set of outcomes. Status-code
// interpretation lives here and nowhere else.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hydrated/hydrated/internal/model"
)

// Outcome is the delivery result seen by the scheduler.
type Outcome int

const (
	// Delivered means the push service accepted the message.
	Delivered Outcome = iota
	// TransientFailure means delivery failed but the subscription is still
	// presumed valid; the next scheduler tick retries naturally.
	TransientFailure
	// PermanentFailure means the push endpoint no longer exists; the
	// subscription and its reminders must be discarded.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Payload is the notification body shown by the browser.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Client sends Web Push messages authenticated with a VAPID key pair.
type Client struct {
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	httpClient      *http.Client
}

const defaultTTL = 60 * 60 // seconds the push service may hold the message

func NewClient(vapidPublicKey, vapidPrivateKey, subscriber string, timeout time.Duration) *Client {
	return &Client{
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a VAPID key pair is present.
func (c *Client) Configured() bool {
	return c.vapidPublicKey != "" && c.vapidPrivateKey != ""
}

// VAPIDPublicKey returns the public half, served to browsers at subscribe time.
func (c *Client) VAPIDPublicKey() string {
	return c.vapidPublicKey
}

// Send encrypts and posts p to the subscription's push endpoint. Transport
// errors (including the client timeout) are transient; the status code
// decides the rest.
func (c *Client) Send(ctx context.Context, sub model.Subscription, p Payload) (Outcome, error) {
	message, err := json.Marshal(p)
	if err != nil {
		return TransientFailure, fmt.Errorf("failed to encode payload: %w", err)
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, message, s, &webpush.Options{
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.vapidPublicKey,
		VAPIDPrivateKey: c.vapidPrivateKey,
		TTL:             defaultTTL,
		HTTPClient:      c.httpClient,
	})
	if err != nil {
		return TransientFailure, fmt.Errorf("push request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	outcome := classifyStatus(resp.StatusCode)
	if outcome == Delivered {
		return Delivered, nil
	}
	return outcome, fmt.Errorf("push service responded %s", resp.Status)
}

// classifyStatus maps a push-service status code to an outcome. 410 Gone and
// 404 mean the endpoint is dead; anything else non-2xx is worth retrying.
func classifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Delivered
	case code == http.StatusGone, code == http.StatusNotFound:
		return PermanentFailure
	default:
		return TransientFailure
	}
}
