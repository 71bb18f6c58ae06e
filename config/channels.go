// config/channels.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"safewalk/models"

	"gopkg.in/yaml.v3"
)

// ChannelsFile is the alert channel list and message presets. The order of
// Channels is the order results are reported in.
type ChannelsFile struct {
	DefaultMessage string            `yaml:"default_message"`
	Presets        map[string]string `yaml:"presets"`
	Channels       []ChannelConfig   `yaml:"channels"`
}

type ChannelConfig struct {
	Type     string          `yaml:"type"`
	Timeout  time.Duration   `yaml:"timeout"`
	Twilio   *TwilioConfig   `yaml:"twilio,omitempty"`
	Firebase *FirebaseConfig `yaml:"firebase,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Slack    *ChatConfig     `yaml:"slack,omitempty"`
	Discord  *ChatConfig     `yaml:"discord,omitempty"`
	Kafka    *KafkaConfig    `yaml:"kafka,omitempty"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	APIURL   string `yaml:"api_url"`
}

type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoadChannels reads the channels file. ${VAR} references are expanded from
// the environment before parsing so credentials can stay out of the file.
func LoadChannels(path string) (*ChannelsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("channels: read %s: %w", path, err)
	}
	return ParseChannels(data)
}

func ParseChannels(data []byte) (*ChannelsFile, error) {
	var cf ChannelsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cf); err != nil {
		return nil, fmt.Errorf("channels: parse: %w", err)
	}
	cf.applyDefaults()
	if err := cf.validate(); err != nil {
		return nil, err
	}
	return &cf, nil
}

// DefaultChannels is used when no channels file exists: the copy-ready
// message is always available.
func DefaultChannels() *ChannelsFile {
	cf := &ChannelsFile{
		Channels: []ChannelConfig{{Type: models.ChannelTypeManualCopy}},
	}
	cf.applyDefaults()
	return cf
}

func (cf *ChannelsFile) applyDefaults() {
	if strings.TrimSpace(cf.DefaultMessage) == "" {
		cf.DefaultMessage = "EMERGENCY: I need help."
	}
	if cf.Presets == nil {
		cf.Presets = map[string]string{}
	}
	for i := range cf.Channels {
		cf.Channels[i].Type = strings.ToLower(strings.TrimSpace(cf.Channels[i].Type))
	}
}

func (cf *ChannelsFile) validate() error {
	var errs []error
	for i, ch := range cf.Channels {
		if err := ch.validate(); err != nil {
			errs = append(errs, fmt.Errorf("channels[%d] (%s): %w", i, ch.Type, err))
		}
	}
	for id, text := range cf.Presets {
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("preset %q is empty", id))
		}
	}
	return errors.Join(errs...)
}

func (c ChannelConfig) validate() error {
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	switch c.Type {
	case models.ChannelTypeSMS, models.ChannelTypeCall:
		if c.Twilio == nil || c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.From == "" {
			return errors.New("twilio account_sid, auth_token and from are required")
		}
	case models.ChannelTypePush:
		// firebase falls back to application default credentials
	case models.ChannelTypeTelegram:
		if c.Telegram == nil || c.Telegram.BotToken == "" {
			return errors.New("telegram bot_token is required")
		}
	case models.ChannelTypeSlack:
		if c.Slack == nil || c.Slack.BotToken == "" || c.Slack.ChannelID == "" {
			return errors.New("slack bot_token and channel_id are required")
		}
	case models.ChannelTypeDiscord:
		if c.Discord == nil || c.Discord.BotToken == "" || c.Discord.ChannelID == "" {
			return errors.New("discord bot_token and channel_id are required")
		}
	case models.ChannelTypeDispatchCenter:
		if c.Kafka == nil || len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("kafka brokers and topic are required")
		}
	case models.ChannelTypeManualCopy:
	default:
		return fmt.Errorf("unknown channel type %q", c.Type)
	}
	return nil
}
