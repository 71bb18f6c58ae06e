package services

import (
	"context"
	"fmt"
	"time"

	"safewalk/models"

	"firebase.google.com/go/v4/messaging"
)

// fcmSender abstracts the FCM client so tests can stub delivery.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushChannel delivers the alert to contacts' devices through FCM.
type PushChannel struct {
	client fcmSender
}

func NewPushChannel(client *messaging.Client) *PushChannel {
	return &PushChannel{client: client}
}

func (c *PushChannel) Type() string { return models.ChannelTypePush }

func (c *PushChannel) Targets(contacts []models.Contact) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, contact := range contacts {
		if contact.PushToken == "" || seen[contact.PushToken] {
			continue
		}
		seen[contact.PushToken] = true
		tokens = append(tokens, contact.PushToken)
	}
	return tokens
}

func (c *PushChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if _, err := c.client.Send(ctx, buildPushMessage(msg, target)); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

func buildPushMessage(msg models.AlertMessage, token string) *messaging.Message {
	title := "Emergency alert"
	if msg.Severity == models.SeverityHigh {
		title = "URGENT: Emergency alert"
	}

	data := map[string]string{
		"type":      "sos_alert",
		"sessionId": msg.SessionID,
		"userId":    msg.UserID,
		"severity":  string(msg.Severity),
		"createdAt": msg.CreatedAt.Format(time.RFC3339),
	}
	if msg.Location != nil {
		data["latitude"] = fmt.Sprintf("%.6f", msg.Location.Latitude)
		data["longitude"] = fmt.Sprintf("%.6f", msg.Location.Longitude)
	}

	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  msg.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "emergency",
				Color:     "#FF0000",
				ChannelID: "sos_alerts",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  msg.Body,
					},
					Sound: "emergency.caf",
				},
			},
		},
	}
}
