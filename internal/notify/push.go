package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Push is a best-effort device notification.
type Push struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Pusher delivers device notifications. Failures never affect settlement.
type Pusher interface {
	Send(ctx context.Context, p Push) error
}

// NopPusher is used when no Firebase credentials are configured.
type NopPusher struct{}

func (NopPusher) Send(context.Context, Push) error { return nil }

type FCMPusher struct {
	client *messaging.Client
	logger *zap.Logger
}

// NewFCMPusher initializes a Firebase app from a service account file.
func NewFCMPusher(ctx context.Context, credentialsFile string, logger *zap.Logger) (*FCMPusher, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	logger.Info("Firebase Cloud Messaging ready")
	return &FCMPusher{client: client, logger: logger}, nil
}

func (f *FCMPusher) Send(ctx context.Context, p Push) error {
	if p.Token == "" {
		return nil
	}

	message := &messaging.Message{
		Token: p.Token,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: p.Data,
	}

	if _, err := f.client.Send(ctx, message); err != nil {
		f.logger.Warn("Push notification failed", zap.Error(err))
		return err
	}
	return nil
}
