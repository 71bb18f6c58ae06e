package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"safewalk/models"
)

const sampleChannels = `
default_message: "I need help"
presets:
  walk: "Walking home and feel unsafe"
channels:
  - type: SMS
    timeout: 8s
    twilio:
      account_sid: AC123
      auth_token: ${TEST_TWILIO_TOKEN}
      from: "+15550000000"
  - type: slack
    slack:
      bot_token: xoxb-1
      channel_id: C123
  - type: dispatch_center
    kafka:
      brokers: ["localhost:9092"]
      topic: sos.alerts
  - type: manual_copy
`

func TestParseChannels(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")

	cf, err := ParseChannels([]byte(sampleChannels))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cf.DefaultMessage != "I need help" || cf.Presets["walk"] == "" {
		t.Fatalf("templates %+v", cf)
	}
	if len(cf.Channels) != 4 {
		t.Fatalf("got %d channels", len(cf.Channels))
	}
	sms := cf.Channels[0]
	if sms.Type != models.ChannelTypeSMS || sms.Timeout != 8*time.Second {
		t.Fatalf("sms %+v", sms)
	}
	if sms.Twilio.AuthToken != "secret-token" {
		t.Fatalf("env not expanded: %q", sms.Twilio.AuthToken)
	}

	tpl := cf.Templates()
	tpl.Presets["walk"] = "changed"
	if cf.Presets["walk"] == "changed" {
		t.Fatalf("Templates shares the preset map")
	}
}

func TestParseChannelsReportsEveryProblem(t *testing.T) {
	_, err := ParseChannels([]byte(`
presets:
  blank: "  "
channels:
  - type: carrier_pigeon
  - type: telegram
  - type: sms
    timeout: -1s
`))
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"carrier_pigeon", "telegram bot_token", "timeout must not be negative", `preset "blank"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadChannelsMissingFile(t *testing.T) {
	_, err := LoadChannels(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}

	cf := DefaultChannels()
	if len(cf.Channels) != 1 || cf.Channels[0].Type != models.ChannelTypeManualCopy || cf.DefaultMessage == "" {
		t.Fatalf("defaults %+v", cf)
	}
}

func TestBuildChannelsKeepsOrder(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")
	cf, err := ParseChannels([]byte(sampleChannels))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	built, err := BuildChannels(context.Background(), cf, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer built.Close()

	want := []string{models.ChannelTypeSMS, models.ChannelTypeSlack, models.ChannelTypeDispatchCenter, models.ChannelTypeManualCopy}
	if len(built.List) != len(want) {
		t.Fatalf("built %d channels", len(built.List))
	}
	for i, cc := range built.List {
		if cc.Channel.Type() != want[i] {
			t.Fatalf("channel %d is %s, want %s", i, cc.Channel.Type(), want[i])
		}
	}
	if built.List[0].Timeout != 8*time.Second {
		t.Fatalf("timeout not carried: %s", built.List[0].Timeout)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("COUNTDOWN_SECONDS", "10")
	t.Setenv("CHANNEL_TIMEOUT", "3s")
	t.Setenv("MQTT_BROKER", "broker.local")
	t.Setenv("LOCATION_HISTORY_SIZE", "not-a-number")

	cfg := Load()
	if cfg.CountdownSeconds != 10 || cfg.ChannelTimeout != 3*time.Second {
		t.Fatalf("config %+v", cfg)
	}
	if cfg.LocationHistorySize != 100 {
		t.Fatalf("bad int should fall back to default, got %d", cfg.LocationHistorySize)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.LocationTopic != "safewalk/+/location" {
		t.Fatalf("mqtt %+v", cfg.MQTT)
	}
}
