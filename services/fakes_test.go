package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"safewalk/models"
)

// ---- device fakes ----

type fakeCapture struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
}

func (f *fakeCapture) Start(ctx context.Context, artifactName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	return "rec-1", nil
}

func (f *fakeCapture) Stop(ctx context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return "sos.webm", nil
}

type fakeTorch struct {
	mu     sync.Mutex
	states []bool
	err    error
}

func (f *fakeTorch) SetState(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.states = append(f.states, on)
	return nil
}

func (f *fakeTorch) last() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return false, 0
	}
	return f.states[len(f.states)-1], len(f.states)
}

type fakeAudio struct {
	mu      sync.Mutex
	playErr error
	toneErr error
	played  int
	tones   int
	stopped int
}

func (f *fakeAudio) PlayAsset(ctx context.Context, assetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return "", f.playErr
	}
	f.played++
	return "asset-1", nil
}

func (f *fakeAudio) SynthesizeTone(ctx context.Context, pattern models.TonePattern) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toneErr != nil {
		return "", f.toneErr
	}
	f.tones++
	return "tone-1", nil
}

func (f *fakeAudio) Stop(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

type fakeVibrator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeVibrator) Vibrate(ctx context.Context, pattern []time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeVibrator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- channel fakes ----

type fakeChannel struct {
	channelType string
	targets     []string
	err         error
	panicMsg    string
	delay       time.Duration

	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) Type() string { return f.channelType }

func (f *fakeChannel) Targets(contacts []models.Contact) []string {
	if f.targets != nil {
		return f.targets
	}
	return []string{""}
}

func (f *fakeChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, target)
	f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ---- controller collaborators ----

type fakeDispatcher struct {
	mu       sync.Mutex
	messages []models.AlertMessage
	result   models.DispatchResult
}

func (f *fakeDispatcher) Send(ctx context.Context, msg models.AlertMessage, contacts []models.Contact, channels []ConfiguredChannel) models.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	res := f.result
	if res.Results == nil {
		res = models.DispatchResult{
			Results: []models.ChannelResult{{ChannelType: "sms", Target: "+15551234567", Status: models.DeliverySuccess}},
			Success: true,
		}
	}
	return res
}

func (f *fakeDispatcher) calls() []models.AlertMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AlertMessage(nil), f.messages...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.HistoryRecord
}

func (f *fakeRecorder) Record(ctx context.Context, record models.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeContacts struct {
	contacts []models.Contact
	err      error
}

func (f *fakeContacts) GetContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	return f.contacts, f.err
}

type fakeLocation struct {
	sample *models.LocationSample
	err    error
}

func (f *fakeLocation) GetLatest() (models.LocationSample, bool) {
	if f.sample == nil {
		return models.LocationSample{}, false
	}
	return *f.sample, true
}

func (f *fakeLocation) LastError() error { return f.err }

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]string
	released int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{held: make(map[string]string)}
}

func (g *fakeGuard) Acquire(ctx context.Context, userID, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[userID]; ok {
		return false, nil
	}
	g.held[userID] = sessionID
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, userID, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[userID] == sessionID {
		delete(g.held, userID)
		g.released++
	}
	return nil
}

// slowGuard answers Release after a delay, like a remote redis round trip.
type slowGuard struct {
	*fakeGuard
	delay time.Duration
}

func (g *slowGuard) Release(ctx context.Context, userID, sessionID string) error {
	time.Sleep(g.delay)
	return g.fakeGuard.Release(ctx, userID, sessionID)
}

// fakeTicker is driven by the test: every tick() delivers one countdown step.
type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.once.Do(func() { close(t.stopped) }) }

func (t *fakeTicker) tick() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-t.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// tickerFactory hands out fake tickers and remembers them.
type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	created chan *fakeTicker
}

func newTickerFactory() *tickerFactory {
	return &tickerFactory{created: make(chan *fakeTicker, 8)}
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	t := newFakeTicker()
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	f.created <- t
	return t
}

func (f *tickerFactory) next() *fakeTicker {
	select {
	case t := <-f.created:
		return t
	case <-time.After(time.Second):
		return nil
	}
}

// ---- history stores ----

type fakeHistoryStore struct {
	mu       sync.Mutex
	records  []models.HistoryRecord
	writeErr error
	readErr  error
}

func (s *fakeHistoryStore) Append(ctx context.Context, record models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeHistoryStore) ReadRecent(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []models.HistoryRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].UserID == userID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *fakeHistoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
