package services

import (
	"context"
	"sync"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

// DeviceProvider hands out the device bridge of one user.
type DeviceProvider interface {
	Devices(userID string) DeviceSet
}

// UserNotifier pushes a typed message to every connection of a user.
type UserNotifier interface {
	SendToUser(userID string, messageType string, data interface{})
}

type EngineConfig struct {
	CountdownSeconds    int
	LocationHistorySize int
	Effects             EffectsConfig
	Templates           MessageTemplates
	Channels            []ConfiguredChannel
	NewTicker           TickerFunc
}

type EngineDeps struct {
	Dispatcher AlertDispatcher
	EventLog   *EventLogWriter
	Contacts   ContactProvider
	Guard      SessionGuard
	Devices    DeviceProvider
	Notifier   UserNotifier
}

// UserEngine is everything the alert engine keeps for one user.
type UserEngine struct {
	UserID     string
	Feed       *LocationFeed
	Source     *PushLocationSource
	Effects    *SideEffectCoordinator
	Controller *TriggerController

	sub Subscription
}

// SOSEngine owns one UserEngine per user, created on first use.
type SOSEngine struct {
	cfg  EngineConfig
	deps EngineDeps

	mu     sync.Mutex
	users  map[string]*UserEngine
	closed bool
}

func NewSOSEngine(cfg EngineConfig, deps EngineDeps) *SOSEngine {
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = DefaultCountdownSeconds
	}
	if cfg.Templates.Default == "" {
		cfg.Templates.Default = DefaultAlertMessage
	}
	return &SOSEngine{
		cfg:   cfg,
		deps:  deps,
		users: make(map[string]*UserEngine),
	}
}

// User returns the user's engine, creating it on first use.
func (e *SOSEngine) User(userID string) (*UserEngine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, utils.ErrEngineClosed
	}
	if ue, ok := e.users[userID]; ok {
		return ue, nil
	}

	var devices DeviceSet
	if e.deps.Devices != nil {
		devices = e.deps.Devices.Devices(userID)
	}

	feed := NewLocationFeed(userID, e.cfg.LocationHistorySize)
	source := NewPushLocationSource()
	sub, err := feed.Attach(source)
	if err != nil {
		return nil, err
	}
	effects := NewSideEffectCoordinator(userID, devices, e.cfg.Effects)

	controller := NewTriggerController(ControllerConfig{
		UserID:           userID,
		Location:         feed,
		Effects:          effects,
		Dispatcher:       e.deps.Dispatcher,
		Channels:         e.cfg.Channels,
		Contacts:         e.deps.Contacts,
		Recorder:         e.deps.EventLog,
		Templates:        e.cfg.Templates,
		Guard:            e.deps.Guard,
		CountdownSeconds: e.cfg.CountdownSeconds,
		NewTicker:        e.cfg.NewTicker,
		OnUpdate: func(s models.AlertSession) {
			e.notify(userID, models.WSTypeSOSState, s)
		},
	})

	ue := &UserEngine{
		UserID:     userID,
		Feed:       feed,
		Source:     source,
		Effects:    effects,
		Controller: controller,
		sub:        sub,
	}
	e.users[userID] = ue
	logrus.WithField("userId", userID).Debug("Created alert engine for user")
	return ue, nil
}

func (e *SOSEngine) Trigger(ctx context.Context, userID string, opts TriggerOptions) (models.AlertSession, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.AlertSession{}, err
	}
	return ue.Controller.Trigger(ctx, opts)
}

func (e *SOSEngine) Cancel(ctx context.Context, userID string) (models.AlertSession, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.AlertSession{}, err
	}
	return ue.Controller.Cancel(ctx)
}

func (e *SOSEngine) Status(userID string) (models.SOSStatusResponse, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.SOSStatusResponse{}, err
	}

	var status models.SOSStatusResponse
	if s, ok := ue.Controller.Current(); ok {
		status.Active = s.State.IsActive()
		status.Session = &s
	}
	if latest, ok := ue.Feed.GetLatest(); ok {
		status.Latest = &latest
	}
	return status, nil
}

func (e *SOSEngine) History(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	return e.deps.EventLog.ReadRecent(ctx, userID, limit)
}

func (e *SOSEngine) Presets() models.SOSPresetsResponse {
	presets := make(map[string]string, len(e.cfg.Templates.Presets))
	for id, text := range e.cfg.Templates.Presets {
		presets[id] = text
	}
	return models.SOSPresetsResponse{Default: e.cfg.Templates.Default, Presets: presets}
}

func (e *SOSEngine) StartEffect(ctx context.Context, userID string, effect models.EffectName) (models.EffectOutcome, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.EffectOutcome{}, err
	}
	out, err := ue.Effects.StartEffect(ctx, effect)
	if err == nil {
		e.notify(userID, models.WSTypeSOSEffects, ue.Effects.Flags())
	}
	return out, err
}

func (e *SOSEngine) StopEffect(ctx context.Context, userID string, effect models.EffectName) (models.EffectOutcome, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.EffectOutcome{}, err
	}
	out, err := ue.Effects.StopEffect(ctx, effect)
	if err == nil {
		e.notify(userID, models.WSTypeSOSEffects, ue.Effects.Flags())
	}
	return out, err
}

// PushLocation feeds a sample from any transport into the user's feed.
func (e *SOSEngine) PushLocation(userID string, sample models.LocationSample) error {
	ue, err := e.User(userID)
	if err != nil {
		return err
	}
	ue.Source.Emit(sample)
	return nil
}

func (e *SOSEngine) PushLocationError(userID string, sourceErr error) error {
	ue, err := e.User(userID)
	if err != nil {
		return err
	}
	ue.Source.EmitError(sourceErr)
	return nil
}

func (e *SOSEngine) LocationStatus(userID string) (models.LocationStatus, error) {
	ue, err := e.User(userID)
	if err != nil {
		return models.LocationStatus{}, err
	}
	return ue.Feed.Status(), nil
}

func (e *SOSEngine) LocationTrail(userID string) ([]models.LocationSample, error) {
	ue, err := e.User(userID)
	if err != nil {
		return nil, err
	}
	return ue.Feed.Trail(), nil
}

// SetCapabilities records the device capability report. Only the first report per user
// is kept.
func (e *SOSEngine) SetCapabilities(userID string, caps models.DeviceCapabilities) (bool, error) {
	ue, err := e.User(userID)
	if err != nil {
		return false, err
	}
	return ue.Effects.SetCapabilities(caps), nil
}

// ActiveSessions counts sessions in countdown or executing.
func (e *SOSEngine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, ue := range e.users {
		if s, ok := ue.Controller.Current(); ok && s.State.IsActive() {
			n++
		}
	}
	return n
}

// Close stops every controller and switches off any effect still running.
func (e *SOSEngine) Close(ctx context.Context) {
	e.mu.Lock()
	e.closed = true
	users := make([]*UserEngine, 0, len(e.users))
	for _, ue := range e.users {
		users = append(users, ue)
	}
	e.mu.Unlock()

	for _, ue := range users {
		ue.sub.Unsubscribe()
		ue.Controller.Close()
		ue.Effects.StopAll(ctx)
	}
	logrus.Infof("Alert engine stopped (%d users)", len(users))
}

func (e *SOSEngine) notify(userID, messageType string, data interface{}) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.SendToUser(userID, messageType, data)
}
