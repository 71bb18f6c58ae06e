// config/notification_config.go
package config

import (
	"context"
	"fmt"

	"safewalk/models"
	"safewalk/services"

	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Channels is the built channel list plus anything that must be closed on
// shutdown.
type Channels struct {
	List    []services.ConfiguredChannel
	closers []func() error
}

func (c *Channels) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			logrus.Warnf("Failed to close channel: %v", err)
		}
	}
}

// Templates returns the message presets of the channels file.
func (cf *ChannelsFile) Templates() services.MessageTemplates {
	presets := make(map[string]string, len(cf.Presets))
	for id, text := range cf.Presets {
		presets[id] = text
	}
	return services.MessageTemplates{Default: cf.DefaultMessage, Presets: presets}
}

// BuildChannels turns the channels file into dispatcher channels, keeping
// the file's order. A channel that cannot be built fails startup.
func BuildChannels(ctx context.Context, cf *ChannelsFile, notifier services.ManualNotifier) (*Channels, error) {
	built := &Channels{}

	for i, cc := range cf.Channels {
		ch, err := buildChannel(ctx, cc, notifier, built)
		if err != nil {
			built.Close()
			return nil, fmt.Errorf("channels[%d] (%s): %w", i, cc.Type, err)
		}
		built.List = append(built.List, services.ConfiguredChannel{Channel: ch, Timeout: cc.Timeout})
		logrus.Infof("Alert channel %d: %s", i+1, cc.Type)
	}

	if len(built.List) == 0 {
		logrus.Warn("No alert channels configured; only the manual fallback will be offered")
	}
	return built, nil
}

func buildChannel(ctx context.Context, cc ChannelConfig, notifier services.ManualNotifier, built *Channels) (services.Channel, error) {
	switch cc.Type {
	case models.ChannelTypeSMS:
		client := services.NewTwilioClient(cc.Twilio.AccountSID, cc.Twilio.AuthToken)
		return services.NewTwilioSMSChannel(client, cc.Twilio.From), nil

	case models.ChannelTypeCall:
		client := services.NewTwilioClient(cc.Twilio.AccountSID, cc.Twilio.AuthToken)
		return services.NewTwilioCallChannel(client, cc.Twilio.From), nil

	case models.ChannelTypePush:
		credentials := ""
		if cc.Firebase != nil {
			credentials = cc.Firebase.CredentialsFile
		}
		app, err := initializeFirebase(ctx, credentials)
		if err != nil {
			return nil, err
		}
		fcmClient, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get FCM client: %w", err)
		}
		return services.NewPushChannel(fcmClient), nil

	case models.ChannelTypeTelegram:
		return services.NewTelegramChannel(cc.Telegram.BotToken, cc.Telegram.APIURL), nil

	case models.ChannelTypeSlack:
		return services.NewSlackChannel(cc.Slack.BotToken, cc.Slack.ChannelID), nil

	case models.ChannelTypeDiscord:
		return services.NewDiscordChannel(cc.Discord.BotToken, cc.Discord.ChannelID)

	case models.ChannelTypeDispatchCenter:
		ch := services.NewKafkaChannel(cc.Kafka.Brokers, cc.Kafka.Topic)
		built.closers = append(built.closers, ch.Close)
		return ch, nil

	case models.ChannelTypeManualCopy:
		return services.NewManualCopyChannel(notifier), nil

	default:
		return nil, fmt.Errorf("unknown channel type %q", cc.Type)
	}
}

// initializeFirebase initializes the Firebase app
func initializeFirebase(ctx context.Context, credentialsFile string) (*firebase.App, error) {
	var (
		app *firebase.App
		err error
	)

	if credentialsFile != "" {
		// Initialize with service account credentials
		opt := option.WithCredentialsFile(credentialsFile)
		app, err = firebase.NewApp(ctx, nil, opt)
	} else {
		// Initialize with default credentials (for cloud environments)
		app, err = firebase.NewApp(ctx, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase: %w", err)
	}
	return app, nil
}
