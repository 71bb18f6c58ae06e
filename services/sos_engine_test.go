package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (n *fakeNotifier) SendToUser(userID string, messageType string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.messages == nil {
		n.messages = make(map[string][]string)
	}
	n.messages[userID] = append(n.messages[userID], messageType)
}

func (n *fakeNotifier) count(userID, messageType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages[userID] {
		if m == messageType {
			c++
		}
	}
	return c
}

type fakeDevices struct{ set DeviceSet }

func (d fakeDevices) Devices(string) DeviceSet { return d.set }

func newTestEngine(t *testing.T) (*SOSEngine, *fakeHistoryStore, *fakeNotifier, *fakeDispatcher) {
	t.Helper()
	remote := &fakeHistoryStore{}
	notifier := &fakeNotifier{}
	dispatcher := &fakeDispatcher{}
	engine := NewSOSEngine(EngineConfig{
		Templates: MessageTemplates{Presets: map[string]string{"walk": "Walking home"}},
		Effects:   EffectsConfig{FlashlightInterval: 5 * time.Millisecond},
	}, EngineDeps{
		Dispatcher: dispatcher,
		EventLog:   NewEventLogWriter(remote, &fakeHistoryStore{}),
		Contacts:   &fakeContacts{},
		Guard:      newFakeGuard(),
		Devices:    fakeDevices{set: DeviceSet{Torch: &fakeTorch{}, Audio: &fakeAudio{}, Capture: &fakeCapture{}, Vibrator: &fakeVibrator{}}},
		Notifier:   notifier,
	})
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine, remote, notifier, dispatcher
}

func TestEngineImmediateAlertEndToEnd(t *testing.T) {
	engine, remote, notifier, dispatcher := newTestEngine(t)
	ctx := context.Background()

	if err := engine.PushLocation("u1", models.LocationSample{Latitude: 10, Longitude: 20, AccuracyMeters: 5, Timestamp: time.Now()}); err != nil {
		t.Fatalf("push location: %v", err)
	}
	zero := 0
	if _, err := engine.Trigger(ctx, "u1", TriggerOptions{PresetID: "walk", CountdownSeconds: &zero}); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if !waitFor(func() bool {
		st, _ := engine.Status("u1")
		return st.Session != nil && st.Session.State == models.SessionStateCompleted
	}) {
		t.Fatalf("alert never completed")
	}

	st, _ := engine.Status("u1")
	if st.Active || st.Latest == nil || st.Latest.Latitude != 10 {
		t.Fatalf("status %+v", st)
	}
	if st.Session.SideEffects != (models.SideEffectFlags{}) {
		t.Fatalf("effects still on after completion: %+v", st.Session.SideEffects)
	}
	if calls := dispatcher.calls(); len(calls) != 1 || calls[0].Location == nil {
		t.Fatalf("dispatch calls %+v", calls)
	}
	if remote.count() != 1 {
		t.Fatalf("history has %d records", remote.count())
	}

	records, err := engine.History(ctx, "u1", 0)
	if err != nil || len(records) != 1 || records[0].SessionID != st.Session.ID {
		t.Fatalf("history %+v, %v", records, err)
	}
	if !waitFor(func() bool { return notifier.count("u1", models.WSTypeSOSState) >= 3 }) {
		t.Fatalf("state updates not pushed: %v", notifier.messages)
	}
	if engine.ActiveSessions() != 0 {
		t.Fatalf("active sessions %d", engine.ActiveSessions())
	}
}

func TestEngineUsersAreIndependent(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Trigger(ctx, "u1", TriggerOptions{}); err != nil {
		t.Fatalf("u1 trigger: %v", err)
	}
	if _, err := engine.Trigger(ctx, "u2", TriggerOptions{}); err != nil {
		t.Fatalf("u2 trigger: %v", err)
	}
	if engine.ActiveSessions() != 2 {
		t.Fatalf("active sessions %d, want 2", engine.ActiveSessions())
	}

	if _, err := engine.Cancel(ctx, "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	st, _ := engine.Status("u2")
	if !st.Active {
		t.Fatalf("cancelling u1 affected u2")
	}
}

func TestEngineManualEffects(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	out, err := engine.StartEffect(ctx, "u1", models.EffectFlashlight)
	if err != nil || out.Status != models.EffectActivated {
		t.Fatalf("start: %+v %v", out, err)
	}
	out, err = engine.StopEffect(ctx, "u1", models.EffectFlashlight)
	if err != nil || out.Status != models.EffectStopped {
		t.Fatalf("stop: %+v %v", out, err)
	}
	if notifier.count("u1", models.WSTypeSOSEffects) != 2 {
		t.Fatalf("effect updates not pushed")
	}
	if _, err := engine.StartEffect(ctx, "u1", "laser"); err == nil {
		t.Fatalf("unknown effect accepted")
	}
}

func TestEngineCapabilitiesFirstReportWins(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	first, err := engine.SetCapabilities("u1", models.DeviceCapabilities{Torch: models.CapabilityUnsupported})
	if err != nil || !first {
		t.Fatalf("first report: %v %v", first, err)
	}
	second, _ := engine.SetCapabilities("u1", models.DeviceCapabilities{Torch: models.CapabilitySupported})
	if second {
		t.Fatalf("second report accepted")
	}
	out, _ := engine.StartEffect(context.Background(), "u1", models.EffectFlashlight)
	if out.Status != models.EffectUnsupported {
		t.Fatalf("flashlight %s, want unsupported", out.Status)
	}
}

func TestEngineLocationErrorsAndTrail(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	now := time.Now()
	engine.PushLocation("u1", models.LocationSample{Latitude: 1, Longitude: 1, Timestamp: now})
	engine.PushLocation("u1", models.LocationSample{Latitude: 1.001, Longitude: 1, Timestamp: now.Add(time.Second)})
	engine.PushLocationError("u1", utils.ErrLocationTimeout)

	st, err := engine.LocationStatus("u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TrailSize != 2 || st.LastError != models.LocationErrTimeout || st.Latest == nil {
		t.Fatalf("status %+v", st)
	}
	trail, _ := engine.LocationTrail("u1")
	if len(trail) != 2 || trail[1].Latitude != 1.001 {
		t.Fatalf("trail %+v", trail)
	}
}

func TestEngineClosed(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if _, err := engine.Trigger(context.Background(), "u1", TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	engine.Close(context.Background())

	if _, err := engine.Trigger(context.Background(), "u1", TriggerOptions{}); !errors.Is(err, utils.ErrEngineClosed) {
		t.Fatalf("got %v, want ErrEngineClosed", err)
	}
	presets := engine.Presets()
	if presets.Default != DefaultAlertMessage || presets.Presets["walk"] != "Walking home" {
		t.Fatalf("presets %+v", presets)
	}
}
