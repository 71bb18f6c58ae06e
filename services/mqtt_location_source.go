package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// LocationSink receives samples routed by user id.
type LocationSink interface {
	PushLocation(userID string, sample models.LocationSample) error
	PushLocationError(userID string, err error) error
}

type MQTTOptions struct {
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTLocationSource takes fixes from wearables and trackers publishing on
// safewalk/<userId>/location and routes them to the user's feed.
type MQTTLocationSource struct {
	client mqtt.Client
	opts   MQTTOptions
	sink   LocationSink

	mu        sync.RWMutex
	connected bool
}

type mqttLocationPayload struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	AccuracyMeters float64    `json:"accuracyMeters"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	Heading        *float64   `json:"heading,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func NewMQTTLocationSource(opts MQTTOptions, sink LocationSink) *MQTTLocationSource {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	s := &MQTTLocationSource{opts: opts, sink: sink}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetKeepAlive(30 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logrus.Warnf("MQTT connection lost: %v", err)
	})

	s.client = mqtt.NewClient(clientOpts)
	return s
}

func (s *MQTTLocationSource) Connect() error {
	logrus.Infof("Connecting to MQTT broker %s:%d", s.opts.Broker, s.opts.Port)

	token := s.client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout after %v", s.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// onConnect (re)subscribes; it also runs after every automatic reconnect.
func (s *MQTTLocationSource) onConnect(client mqtt.Client) {
	s.setConnected(true)

	token := client.Subscribe(s.opts.Topic, s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		logrus.Errorf("MQTT subscribe timeout for topic %s", s.opts.Topic)
		return
	}
	if err := token.Error(); err != nil {
		logrus.Errorf("MQTT subscribe failed for topic %s: %v", s.opts.Topic, err)
		return
	}
	logrus.Infof("Subscribed to MQTT location topic %s", s.opts.Topic)
}

func (s *MQTTLocationSource) handle(topic string, payload []byte) {
	msg, err := parseLocationMessage(topic, payload)
	if err != nil {
		logrus.WithField("topic", topic).Warnf("Ignoring MQTT location message: %v", err)
		return
	}
	if msg.SourceErr != nil {
		err = s.sink.PushLocationError(msg.UserID, msg.SourceErr)
	} else {
		err = s.sink.PushLocation(msg.UserID, msg.Sample)
	}
	if err != nil {
		logrus.WithField("userId", msg.UserID).Warnf("Failed to route MQTT location: %v", err)
	}
}

func (s *MQTTLocationSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.client.IsConnected()
}

func (s *MQTTLocationSource) Disconnect() {
	s.setConnected(false)
	s.client.Disconnect(250)
	logrus.Info("Disconnected from MQTT broker")
}

func (s *MQTTLocationSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

type locationMessage struct {
	UserID    string
	Sample    models.LocationSample
	SourceErr error
}

// parseLocationMessage extracts the user id from the second topic segment
// and decodes either a fix or a source error.
func parseLocationMessage(topic string, payload []byte) (locationMessage, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return locationMessage{}, fmt.Errorf("unexpected topic %q", topic)
	}
	msg := locationMessage{UserID: parts[1]}

	var p mqttLocationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return locationMessage{}, fmt.Errorf("invalid payload: %w", err)
	}
	if p.Error != "" {
		msg.SourceErr = utils.LocationErrorFromCode(p.Error)
		return msg, nil
	}
	if p.Latitude == nil || p.Longitude == nil {
		return locationMessage{}, fmt.Errorf("payload without coordinates")
	}

	msg.Sample = models.LocationSample{
		Latitude:       *p.Latitude,
		Longitude:      *p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		Speed:          p.Speed,
		Heading:        p.Heading,
	}
	if p.Timestamp != nil {
		msg.Sample.Timestamp = *p.Timestamp
	}
	return msg, nil
}
