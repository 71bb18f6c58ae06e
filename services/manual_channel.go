package services

import (
	"context"

	"safewalk/models"
)

// ManualNotifier pushes the copy-ready text to the user's own device.
type ManualNotifier interface {
	SendToUser(userID string, messageType string, data interface{})
}

// ManualCopyChannel always succeeds: it hands the message back to the user
// so they can paste it anywhere. It is the channel that cannot fail.
type ManualCopyChannel struct {
	notifier ManualNotifier
}

func NewManualCopyChannel(notifier ManualNotifier) *ManualCopyChannel {
	return &ManualCopyChannel{notifier: notifier}
}

func (c *ManualCopyChannel) Type() string { return models.ChannelTypeManualCopy }

func (c *ManualCopyChannel) Targets([]models.Contact) []string {
	return []string{"self"}
}

func (c *ManualCopyChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if c.notifier != nil {
		c.notifier.SendToUser(msg.UserID, models.WSTypeSOSCopy, models.WSCopyMessage{
			SessionID: msg.SessionID,
			Body:      msg.Body,
		})
	}
	return nil
}
