// README: Push delivery through Firebase Cloud Messaging.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
)

type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMPublisher struct {
	client Sender
	tokens TokenStore
}

func NewFCMPublisher(client Sender, tokens TokenStore) *FCMPublisher {
	return &FCMPublisher{client: client, tokens: tokens}
}

func (f *FCMPublisher) Name() string { return "fcm" }

// Publish pushes e to every recipient with a registered device. Recipients
// without a token are skipped.
func (f *FCMPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, uid := range e.Recipients {
		token, err := f.tokens.Token(ctx, uid)
		if errors.Is(err, ErrNoToken) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := f.client.Send(ctx, message(token, e)); err != nil {
			errs = append(errs, fmt.Errorf("sending FCM to %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func message(token string, e Event) *messaging.Message {
	data := map[string]string{
		"type":    string(e.Kind),
		"trip_id": string(e.TripID),
		"seq":     strconv.FormatUint(e.Seq, 10),
	}
	for k, v := range e.Data {
		data[k] = v
	}
	return &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: e.Title,
			Body:  e.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
