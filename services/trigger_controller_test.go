package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

type fakeEffects struct {
	mu      sync.Mutex
	modes   []models.AlertMode
	stopped int
	caps    models.DeviceCapabilities
}

func (f *fakeEffects) ApplyMode(ctx context.Context, mode models.AlertMode) []models.EffectOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	if mode == models.AlertModeLoud {
		return []models.EffectOutcome{{Effect: models.EffectSiren, Status: models.EffectActivated}}
	}
	return []models.EffectOutcome{}
}

func (f *fakeEffects) StopAll(ctx context.Context) []models.EffectOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeEffects) Flags() models.SideEffectFlags { return models.SideEffectFlags{} }

func (f *fakeEffects) Capabilities() models.DeviceCapabilities { return f.caps }

func (f *fakeEffects) applied() []models.AlertMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AlertMode(nil), f.modes...)
}

func (f *fakeEffects) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// sequencedEffects records the order of ApplyMode and StopAll calls.
type sequencedEffects struct {
	fakeEffects
	stopDelay time.Duration
	seqMu     sync.Mutex
	seq       []string
}

func (f *sequencedEffects) ApplyMode(ctx context.Context, mode models.AlertMode) []models.EffectOutcome {
	f.seqMu.Lock()
	f.seq = append(f.seq, "apply")
	f.seqMu.Unlock()
	return f.fakeEffects.ApplyMode(ctx, mode)
}

func (f *sequencedEffects) StopAll(ctx context.Context) []models.EffectOutcome {
	time.Sleep(f.stopDelay)
	f.seqMu.Lock()
	f.seq = append(f.seq, "stop")
	f.seqMu.Unlock()
	return f.fakeEffects.StopAll(ctx)
}

func (f *sequencedEffects) calls() []string {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()
	return append([]string(nil), f.seq...)
}

// gatedDispatcher holds every Send until release is closed.
type gatedDispatcher struct {
	fakeDispatcher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDispatcher) Send(ctx context.Context, msg models.AlertMessage, contacts []models.Contact, channels []ConfiguredChannel) models.DispatchResult {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeDispatcher.Send(ctx, msg, contacts, channels)
}

type controllerHarness struct {
	tc         *TriggerController
	tickers    *tickerFactory
	effects    *fakeEffects
	dispatcher *fakeDispatcher
	recorder   *fakeRecorder
	guard      *fakeGuard
	location   *fakeLocation
}

func newControllerHarness(t *testing.T, countdown int, mutate func(*ControllerConfig)) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		tickers:    newTickerFactory(),
		effects:    &fakeEffects{},
		dispatcher: &fakeDispatcher{},
		recorder:   &fakeRecorder{},
		guard:      newFakeGuard(),
		location:   &fakeLocation{},
	}
	cfg := ControllerConfig{
		UserID:           "user-1",
		Location:         h.location,
		Effects:          h.effects,
		Dispatcher:       h.dispatcher,
		Contacts:         &fakeContacts{contacts: []models.Contact{{Name: "Mom", Phone: "+15551234567"}}},
		Recorder:         h.recorder,
		Templates:        MessageTemplates{Default: "Help me", Presets: map[string]string{"walk": "Walking home, feel unsafe"}},
		Guard:            h.guard,
		CountdownSeconds: countdown,
		NewTicker:        h.tickers.New,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.tc = NewTriggerController(cfg)
	t.Cleanup(h.tc.Close)
	return h
}

func (h *controllerHarness) waitState(t *testing.T, state models.SessionState) models.AlertSession {
	t.Helper()
	ok := waitFor(func() bool {
		s, ok := h.tc.Current()
		return ok && s.State == state
	})
	s, _ := h.tc.Current()
	if !ok {
		t.Fatalf("session never reached %s, last state %s", state, s.State)
	}
	return s
}

func TestCancelDuringCountdownHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{1, 2, 5} {
		for k := 0; k < n; k++ {
			h := newControllerHarness(t, n, nil)

			s, err := h.tc.Trigger(ctx, TriggerOptions{})
			if err != nil {
				t.Fatalf("n=%d k=%d trigger: %v", n, k, err)
			}
			if s.State != models.SessionStateCountdown || s.CountdownRemaining != n {
				t.Fatalf("n=%d k=%d after trigger: %s remaining %d", n, k, s.State, s.CountdownRemaining)
			}

			ticker := h.tickers.next()
			if ticker == nil {
				t.Fatalf("n=%d k=%d no ticker created", n, k)
			}
			for i := 0; i < k; i++ {
				if !ticker.tick() {
					t.Fatalf("n=%d k=%d tick %d not consumed", n, k, i)
				}
			}

			s, err = h.tc.Cancel(ctx)
			if err != nil {
				t.Fatalf("n=%d k=%d cancel: %v", n, k, err)
			}
			if s.State != models.SessionStateCancelled || s.CountdownRemaining != n-k {
				t.Fatalf("n=%d k=%d after cancel: %s remaining %d", n, k, s.State, s.CountdownRemaining)
			}
			if ticker.tick() {
				t.Fatalf("n=%d k=%d ticker still running after cancel", n, k)
			}

			if len(h.dispatcher.calls()) != 0 {
				t.Fatalf("n=%d k=%d dispatcher called after cancel", n, k)
			}
			if len(h.effects.applied()) != 0 {
				t.Fatalf("n=%d k=%d effects applied after cancel", n, k)
			}
			if h.recorder.count() != 0 {
				t.Fatalf("n=%d k=%d cancelled session written to history", n, k)
			}
			h.guard.mu.Lock()
			released := h.guard.released
			h.guard.mu.Unlock()
			if released != 1 {
				t.Fatalf("n=%d k=%d session guard released %d times", n, k, released)
			}
			h.tc.Close()
		}
	}
}

func TestRetriggerAfterSessionEndsWithSlowGuard(t *testing.T) {
	guard := &slowGuard{fakeGuard: newFakeGuard(), delay: 20 * time.Millisecond}
	h := newControllerHarness(t, 3, func(cfg *ControllerConfig) { cfg.Guard = guard })
	ctx := context.Background()

	if _, err := h.tc.Trigger(ctx, TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := h.tc.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	s, err := h.tc.Trigger(ctx, TriggerOptions{})
	if err != nil {
		t.Fatalf("re-trigger right after cancel: %v", err)
	}
	if s.State != models.SessionStateCountdown {
		t.Fatalf("re-trigger state %s", s.State)
	}

	// press, press again to stop, press a third time
	if s, err := h.tc.Trigger(ctx, TriggerOptions{}); err != nil || s.State != models.SessionStateCancelled {
		t.Fatalf("toggle cancel: %s %v", s.State, err)
	}
	zero := 0
	if _, err := h.tc.Trigger(ctx, TriggerOptions{CountdownSeconds: &zero}); err != nil {
		t.Fatalf("trigger after toggle: %v", err)
	}
	h.waitState(t, models.SessionStateCompleted)

	if _, err := h.tc.Trigger(ctx, TriggerOptions{}); err != nil {
		t.Fatalf("re-trigger right after completion: %v", err)
	}
}

func TestCancelledEffectsStopBeforeNextAlertStarts(t *testing.T) {
	effects := &sequencedEffects{stopDelay: 30 * time.Millisecond}
	h := newControllerHarness(t, 3, func(cfg *ControllerConfig) { cfg.Effects = effects })
	ctx := context.Background()

	if _, err := h.tc.Trigger(ctx, TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := h.tc.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	zero := 0
	if _, err := h.tc.Trigger(ctx, TriggerOptions{Mode: models.AlertModeLoud, CountdownSeconds: &zero}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.waitState(t, models.SessionStateCompleted)

	got := effects.calls()
	want := []string{"stop", "apply", "stop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("effect calls %v, want %v", got, want)
	}
}

func TestCountdownExpiryExecutesOnce(t *testing.T) {
	h := newControllerHarness(t, 2, nil)
	ctx := context.Background()

	if _, err := h.tc.Trigger(ctx, TriggerOptions{Severity: models.SeverityMedium}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	ticker := h.tickers.next()
	ticker.tick()
	ticker.tick()

	s := h.waitState(t, models.SessionStateCompleted)

	calls := h.dispatcher.calls()
	if len(calls) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(calls))
	}
	if calls[0].SessionID != s.ID {
		t.Fatalf("dispatched session %s, want %s", calls[0].SessionID, s.ID)
	}
	if !strings.HasPrefix(s.MessageBody, "[ALERT] Help me\n") {
		t.Fatalf("message body %q", s.MessageBody)
	}
	if s.Dispatch == nil || !s.Dispatch.Success || len(s.ChannelResults) != 1 {
		t.Fatalf("dispatch result not applied: %+v", s.Dispatch)
	}
	if s.ExecutedAt == nil || s.EndedAt == nil {
		t.Fatalf("timestamps missing: executed %v ended %v", s.ExecutedAt, s.EndedAt)
	}
	if h.recorder.count() != 1 {
		t.Fatalf("history written %d times, want 1", h.recorder.count())
	}
	if h.effects.stopCount() != 1 {
		t.Fatalf("effects stopped %d times, want 1", h.effects.stopCount())
	}

	if _, err := h.tc.Cancel(ctx); !errors.Is(err, utils.ErrNoActiveCountdown) {
		t.Fatalf("cancel after completion: %v", err)
	}
}

func TestCancelAfterExecutionStartedIsRejected(t *testing.T) {
	gate := &gatedDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newControllerHarness(t, 1, func(cfg *ControllerConfig) { cfg.Dispatcher = gate })
	ctx := context.Background()

	if _, err := h.tc.Trigger(ctx, TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.tickers.next().tick()

	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		t.Fatalf("dispatch never started")
	}

	s, err := h.tc.Cancel(ctx)
	if !errors.Is(err, utils.ErrSessionExecuting) {
		t.Fatalf("cancel during execution: %v", err)
	}
	if s.State != models.SessionStateExecuting {
		t.Fatalf("state %s, want executing", s.State)
	}
	if _, err := h.tc.Trigger(ctx, TriggerOptions{}); !errors.Is(err, utils.ErrSessionExecuting) {
		t.Fatalf("trigger during execution: %v", err)
	}

	close(gate.release)
	h.waitState(t, models.SessionStateCompleted)
}

func TestSecondTriggerDuringCountdownCancels(t *testing.T) {
	h := newControllerHarness(t, 5, nil)
	ctx := context.Background()

	first, err := h.tc.Trigger(ctx, TriggerOptions{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	second, err := h.tc.Trigger(ctx, TriggerOptions{})
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.ID != first.ID || second.State != models.SessionStateCancelled {
		t.Fatalf("second trigger: %+v", second)
	}

	// a fresh press after the cancel starts a new session
	third, err := h.tc.Trigger(ctx, TriggerOptions{})
	if err != nil {
		t.Fatalf("third trigger: %v", err)
	}
	if third.ID == first.ID || third.State != models.SessionStateCountdown {
		t.Fatalf("third trigger: %+v", third)
	}
}

func TestZeroCountdownWithoutLocation(t *testing.T) {
	h := newControllerHarness(t, 0, nil)

	s, err := h.tc.Trigger(context.Background(), TriggerOptions{Mode: models.AlertModeSilent})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if s.State != models.SessionStateExecuting {
		t.Fatalf("state %s, want executing", s.State)
	}

	s = h.waitState(t, models.SessionStateCompleted)
	if s.LocationSnapshot != nil {
		t.Fatalf("unexpected location snapshot")
	}
	if !strings.HasSuffix(s.MessageBody, "Location: unable to determine") {
		t.Fatalf("message body %q", s.MessageBody)
	}
	if got := h.effects.applied(); len(got) != 1 || got[0] != models.AlertModeSilent {
		t.Fatalf("effects applied with %v", got)
	}
	if len(s.EffectOutcomes) != 0 {
		t.Fatalf("silent alert produced effect outcomes %+v", s.EffectOutcomes)
	}
	if len(h.tickers.tickers) != 0 {
		t.Fatalf("zero countdown created a ticker")
	}
}

func TestLocationSnapshotIsTakenAtExecution(t *testing.T) {
	loc := models.LocationSample{Latitude: 52.52, Longitude: 13.405, AccuracyMeters: 30, Timestamp: time.Now()}
	h := newControllerHarness(t, 0, nil)
	h.location.sample = &loc

	if _, err := h.tc.Trigger(context.Background(), TriggerOptions{PresetID: "walk"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	s := h.waitState(t, models.SessionStateCompleted)

	if s.LocationSnapshot == nil || s.LocationSnapshot.Latitude != loc.Latitude {
		t.Fatalf("snapshot %+v", s.LocationSnapshot)
	}
	if !strings.Contains(s.MessageBody, "Walking home, feel unsafe") || !strings.Contains(s.MessageBody, "52.520000,13.405000") {
		t.Fatalf("message body %q", s.MessageBody)
	}
	if msg := h.dispatcher.calls()[0]; msg.Location == nil {
		t.Fatalf("dispatched message has no location")
	}
}

func TestUnknownPresetRejectedBeforeCountdown(t *testing.T) {
	h := newControllerHarness(t, 3, nil)

	_, err := h.tc.Trigger(context.Background(), TriggerOptions{PresetID: "nope"})
	if !errors.Is(err, utils.ErrUnknownPreset) {
		t.Fatalf("got %v, want ErrUnknownPreset", err)
	}
	if _, ok := h.tc.Current(); ok {
		t.Fatalf("a session was created for an invalid preset")
	}
}

func TestGuardHeldElsewhereRejectsTrigger(t *testing.T) {
	h := newControllerHarness(t, 3, nil)
	h.guard.held["user-1"] = "other-instance-session"

	_, err := h.tc.Trigger(context.Background(), TriggerOptions{})
	if !errors.Is(err, utils.ErrSessionActive) {
		t.Fatalf("got %v, want ErrSessionActive", err)
	}
}

func TestPermissionWarnings(t *testing.T) {
	h := newControllerHarness(t, 3, nil)
	h.location.err = utils.ErrPermissionDenied
	h.effects.caps = models.DeviceCapabilities{DeniedPermissions: []string{models.PermissionMicrophone}}

	s, err := h.tc.Trigger(context.Background(), TriggerOptions{Mode: models.AlertModeLoud})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(s.Warnings) != 2 {
		t.Fatalf("warnings %v", s.Warnings)
	}
}

func TestOnUpdateSeesEveryState(t *testing.T) {
	var mu sync.Mutex
	var states []models.SessionState
	h := newControllerHarness(t, 1, func(cfg *ControllerConfig) {
		cfg.OnUpdate = func(s models.AlertSession) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		}
	})

	if _, err := h.tc.Trigger(context.Background(), TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.tickers.next().tick()
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []models.SessionState{models.SessionStateCountdown, models.SessionStateExecuting, models.SessionStateCompleted}
	if len(states) != len(want) {
		t.Fatalf("states %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states %v, want %v", states, want)
		}
	}
}

func TestClosedControllerRejectsCalls(t *testing.T) {
	h := newControllerHarness(t, 3, nil)
	if _, err := h.tc.Trigger(context.Background(), TriggerOptions{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.tc.Close()

	s, _ := h.tc.Current()
	if s.State != models.SessionStateCancelled {
		t.Fatalf("countdown not cancelled on close: %s", s.State)
	}
	if _, err := h.tc.Trigger(context.Background(), TriggerOptions{}); !errors.Is(err, utils.ErrEngineClosed) {
		t.Fatalf("got %v, want ErrEngineClosed", err)
	}
}
