package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

type fakeEngine struct {
	mu      sync.Mutex
	samples []models.LocationSample
	errs    []error
	caps    []models.DeviceCapabilities
}

func (e *fakeEngine) PushLocation(userID string, sample models.LocationSample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, sample)
	return nil
}

func (e *fakeEngine) PushLocationError(userID string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
	return nil
}

func (e *fakeEngine) SetCapabilities(userID string, caps models.DeviceCapabilities) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.caps = append(e.caps, caps)
	return len(e.caps) == 1, nil
}

// newTestClient registers a connectionless client; handleMessage and the send
// queue work without a socket.
func newTestClient(t *testing.T, hub *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(nil, hub, userID, nil)
	hub.registerClient(c)
	return c
}

func nextMessage(t *testing.T, c *Client) models.WSMessage {
	t.Helper()
	select {
	case m := <-c.send:
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message queued for %s", c.userID)
		return models.WSMessage{}
	}
}

func TestSendCommandResolvesAck(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Shutdown()
	client := newTestClient(t, hub, "u1")

	type result struct {
		ack models.DeviceAck
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := hub.SendCommand(context.Background(), "u1", models.DeviceCmdTorchSet, map[string]interface{}{"on": true})
		done <- result{ack, err}
	}()

	msg := nextMessage(t, client)
	if msg.Type != models.WSTypeDeviceCommand {
		t.Fatalf("got %s, want device.command", msg.Type)
	}
	cmd := msg.Data.(models.DeviceCommand)
	if cmd.Command != models.DeviceCmdTorchSet || cmd.RequestID == "" || cmd.RequestID != msg.RequestID {
		t.Fatalf("command %+v", cmd)
	}

	raw, _ := json.Marshal(models.WSRequest{
		Type: models.WSTypeDeviceAck,
		Data: map[string]interface{}{"requestId": cmd.RequestID, "ok": true, "handle": "torch-1"},
	})
	client.handleMessage(raw)

	r := <-done
	if r.err != nil || !r.ack.OK || r.ack.Handle != "torch-1" {
		t.Fatalf("ack %+v, err %v", r.ack, r.err)
	}
	if hub.GetStats().PendingCommands != 0 {
		t.Fatalf("pending command not cleared")
	}
	if hub.resolveAck(models.DeviceAck{RequestID: cmd.RequestID}) {
		t.Fatalf("late ack accepted")
	}
}

func TestSendCommandOfflineAndTimeout(t *testing.T) {
	hub := NewHub(20 * time.Millisecond)
	defer hub.Shutdown()

	if _, err := hub.SendCommand(context.Background(), "nobody", models.DeviceCmdVibrate, nil); !errors.Is(err, ErrDeviceOffline) {
		t.Fatalf("got %v, want ErrDeviceOffline", err)
	}

	newTestClient(t, hub, "u1")
	if _, err := hub.SendCommand(context.Background(), "u1", models.DeviceCmdVibrate, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestDeviceBridgeMapsNegativeAcks(t *testing.T) {
	cases := []struct {
		ack  models.DeviceAck
		want error
	}{
		{models.DeviceAck{Unsupported: true}, utils.ErrHardwareUnsupported},
		{models.DeviceAck{Denied: true}, utils.ErrPermissionDenied},
		{models.DeviceAck{OK: true}, nil},
	}
	for _, tc := range cases {
		if got := ackError(tc.ack); !errors.Is(got, tc.want) {
			t.Fatalf("ackError(%+v) = %v, want %v", tc.ack, got, tc.want)
		}
	}
	if err := ackError(models.DeviceAck{Error: "camera busy"}); err == nil || err.Error() != "camera busy" {
		t.Fatalf("got %v", err)
	}
}

func TestDeviceBridgeRoundTrip(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Shutdown()
	client := newTestClient(t, hub, "u1")
	devices := hub.Devices("u1")

	// answer every command the way a phone without a torch would
	go func() {
		for {
			select {
			case m := <-client.send:
				cmd, ok := m.Data.(models.DeviceCommand)
				if !ok {
					continue
				}
				ack := models.DeviceAck{RequestID: cmd.RequestID, OK: true, Handle: "h-" + cmd.Command}
				if cmd.Command == models.DeviceCmdTorchSet {
					ack = models.DeviceAck{RequestID: cmd.RequestID, Unsupported: true}
				}
				hub.resolveAck(ack)
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	ctx := context.Background()
	if err := devices.Torch.SetState(ctx, true); !errors.Is(err, utils.ErrHardwareUnsupported) {
		t.Fatalf("torch: %v", err)
	}
	handle, err := devices.Audio.PlayAsset(ctx, "siren.mp3")
	if err != nil || handle != "h-"+models.DeviceCmdSirenPlay {
		t.Fatalf("siren: %q %v", handle, err)
	}
	if err := devices.Vibrator.Vibrate(ctx, []time.Duration{100 * time.Millisecond}); err != nil {
		t.Fatalf("vibrate: %v", err)
	}
}

func TestClientRoutesReportsToEngine(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Shutdown()
	engine := &fakeEngine{}
	hub.AttachEngine(engine)
	client := newTestClient(t, hub, "u1")

	send := func(req models.WSRequest) {
		raw, _ := json.Marshal(req)
		client.handleMessage(raw)
	}

	send(models.WSRequest{Type: models.WSTypeLocationSample, Data: map[string]interface{}{"latitude": 1.5, "longitude": 2.5, "accuracyMeters": 9}})
	send(models.WSRequest{Type: models.WSTypeLocationError, Data: map[string]interface{}{"code": "timeout"}})
	send(models.WSRequest{Type: models.WSTypeCapabilities, RequestID: "r1", Data: map[string]interface{}{"torch": "unsupported"}})

	engine.mu.Lock()
	if len(engine.samples) != 1 || engine.samples[0].Latitude != 1.5 || engine.samples[0].Timestamp.IsZero() {
		t.Fatalf("samples %+v", engine.samples)
	}
	if len(engine.errs) != 1 || !errors.Is(engine.errs[0], utils.ErrLocationTimeout) {
		t.Fatalf("errors %+v", engine.errs)
	}
	if len(engine.caps) != 1 || engine.caps[0].Torch != models.CapabilityUnsupported || engine.caps[0].Microphone != models.CapabilityUnknown {
		t.Fatalf("capabilities %+v", engine.caps)
	}
	engine.mu.Unlock()

	if m := nextMessage(t, client); m.Type != models.WSTypeSuccess || m.RequestID != "r1" {
		t.Fatalf("capabilities reply %+v", m)
	}
}

func TestClientRejectsBadMessages(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Shutdown()
	hub.AttachEngine(&fakeEngine{})
	client := newTestClient(t, hub, "u1")

	for _, raw := range []string{
		`not json`,
		`{"type":""}`,
		`{"type":"location.sample"}`,
		`{"type":"location.sample","data":{"latitude":91,"longitude":0}}`,
		`{"type":"location.sample","data":{"longitude":0}}`,
		`{"type":"teleport","data":{}}`,
	} {
		client.handleMessage([]byte(raw))
		if m := nextMessage(t, client); m.Type != models.WSTypeError {
			t.Fatalf("%s: got %s, want error", raw, m.Type)
		}
	}

	client.handleMessage([]byte(`{"type":"ping"}`))
	if m := nextMessage(t, client); m.Type != models.WSTypePong {
		t.Fatalf("ping answered with %s", m.Type)
	}
}

func TestHubTracksUserConnections(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Shutdown()
	a := newTestClient(t, hub, "u1")
	newTestClient(t, hub, "u1")

	if stats := hub.GetStats(); stats.ConnectedUsers != 1 || stats.ActiveConnections != 2 {
		t.Fatalf("two connections of one user: %+v", stats)
	}
	if delivered := hub.sendMessageToUser(UserMessage{UserID: "u1", Message: models.WSMessage{Type: models.WSTypeSOSState}}); delivered != 2 {
		t.Fatalf("delivered to %d connections, want 2", delivered)
	}

	hub.unregisterClient(a)
	stats := hub.GetStats()
	if stats.ActiveConnections != 1 || stats.TotalConnections != 2 || stats.ConnectedUsers != 1 {
		t.Fatalf("stats %+v", stats)
	}
}
