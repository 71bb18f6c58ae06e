package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

const (
	DefaultCountdownSeconds = 5
	MaxCountdownSeconds     = 60
	defaultTickInterval     = time.Second
	guardCallTimeout        = 2 * time.Second
)

// Ticker is the part of time.Ticker the controller uses.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TickerFunc creates a ticker; tests inject one they drive by hand.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()                  { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// LatestLocation is the read side of the location feed.
type LatestLocation interface {
	GetLatest() (models.LocationSample, bool)
	LastError() error
}

type EffectsRunner interface {
	ApplyMode(ctx context.Context, mode models.AlertMode) []models.EffectOutcome
	StopAll(ctx context.Context) []models.EffectOutcome
	Flags() models.SideEffectFlags
	Capabilities() models.DeviceCapabilities
}

type AlertDispatcher interface {
	Send(ctx context.Context, msg models.AlertMessage, contacts []models.Contact, channels []ConfiguredChannel) models.DispatchResult
}

type HistoryRecorder interface {
	Record(ctx context.Context, record models.HistoryRecord) error
}

type ContactProvider interface {
	GetContacts(ctx context.Context, userID string) ([]models.Contact, error)
}

// SessionGuard reserves the single active-session slot of a user across
// backend instances.
type SessionGuard interface {
	Acquire(ctx context.Context, userID, sessionID string) (bool, error)
	Release(ctx context.Context, userID, sessionID string) error
}

type ControllerConfig struct {
	UserID           string
	Location         LatestLocation
	Effects          EffectsRunner
	Dispatcher       AlertDispatcher
	Channels         []ConfiguredChannel
	Contacts         ContactProvider
	Recorder         HistoryRecorder
	Templates        MessageTemplates
	Guard            SessionGuard
	CountdownSeconds int
	TickInterval     time.Duration
	NewTicker        TickerFunc
	// OnUpdate receives a copy of the session after every state change. It
	// runs on the controller goroutine and must not block.
	OnUpdate func(models.AlertSession)
}

type eventKind int

const (
	eventTrigger eventKind = iota
	eventCancel
	eventExecuted
)

type controllerEvent struct {
	kind   eventKind
	ctx    context.Context
	opts   TriggerOptions
	result *executionResult
	reply  chan controllerReply
}

type controllerReply struct {
	session models.AlertSession
	err     error
}

type executionResult struct {
	sessionID string
	session   models.AlertSession
	err       error
}

// TriggerController is the per-user alert state machine. All state changes
// happen on one goroutine that reads triggers, cancels, ticks and execution
// results from a single queue, so a cancel racing the final tick is decided
// by which of the two is dequeued first.
type TriggerController struct {
	cfg ControllerConfig

	events chan controllerEvent
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup

	current atomic.Pointer[models.AlertSession]

	// owned by the run goroutine
	session *models.AlertSession
	opts    TriggerOptions
	ticker  Ticker
	// closed once the effects of the last cancelled countdown are stopped
	stopping <-chan struct{}
}

func NewTriggerController(cfg ControllerConfig) *TriggerController {
	if cfg.CountdownSeconds < 0 {
		cfg.CountdownSeconds = 0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewRealTicker
	}

	tc := &TriggerController{
		cfg:    cfg,
		events: make(chan controllerEvent),
		done:   make(chan struct{}),
	}
	tc.wg.Add(1)
	go tc.run()
	return tc
}

// Trigger starts a countdown. While a countdown is running it cancels it
// instead, and while an alert is executing it is rejected.
func (tc *TriggerController) Trigger(ctx context.Context, opts TriggerOptions) (models.AlertSession, error) {
	return tc.call(ctx, controllerEvent{kind: eventTrigger, ctx: ctx, opts: opts})
}

// Cancel aborts the running countdown. Once execution has started it is too
// late and ErrSessionExecuting is returned.
func (tc *TriggerController) Cancel(ctx context.Context) (models.AlertSession, error) {
	return tc.call(ctx, controllerEvent{kind: eventCancel, ctx: ctx})
}

// Current returns the latest session snapshot without waiting on the
// controller.
func (tc *TriggerController) Current() (models.AlertSession, bool) {
	p := tc.current.Load()
	if p == nil {
		return models.AlertSession{}, false
	}
	return p.Clone(), true
}

// Close stops the controller. A running countdown is cancelled; an executing
// alert is left to finish on its own.
func (tc *TriggerController) Close() {
	tc.closed.Do(func() {
		close(tc.done)
	})
	tc.wg.Wait()
}

func (tc *TriggerController) call(ctx context.Context, ev controllerEvent) (models.AlertSession, error) {
	ev.reply = make(chan controllerReply, 1)
	select {
	case tc.events <- ev:
	case <-tc.done:
		return models.AlertSession{}, utils.ErrEngineClosed
	case <-ctx.Done():
		return models.AlertSession{}, ctx.Err()
	}

	// the reply is buffered and always sent once the event is accepted
	r := <-ev.reply
	return r.session, r.err
}

func (tc *TriggerController) run() {
	defer tc.wg.Done()

	for {
		var tickC <-chan time.Time
		if tc.ticker != nil {
			tickC = tc.ticker.Chan()
		}

		select {
		case <-tc.done:
			if tc.session != nil && tc.session.State == models.SessionStateCountdown {
				tc.cancelCountdown("controller closed")
			}
			tc.stopTicker()
			return

		case ev := <-tc.events:
			switch ev.kind {
			case eventTrigger:
				s, err := tc.handleTrigger(ev.ctx, ev.opts)
				ev.reply <- controllerReply{session: s, err: err}
			case eventCancel:
				s, err := tc.handleCancel()
				ev.reply <- controllerReply{session: s, err: err}
			case eventExecuted:
				tc.handleExecuted(ev.result)
			}

		case <-tickC:
			tc.handleTick()
		}
	}
}

func (tc *TriggerController) handleTrigger(ctx context.Context, opts TriggerOptions) (models.AlertSession, error) {
	if tc.session != nil {
		switch tc.session.State {
		case models.SessionStateCountdown:
			// a second press during the countdown means "stop"
			return tc.cancelCountdown("trigger pressed again"), nil
		case models.SessionStateExecuting:
			return tc.session.Clone(), utils.ErrSessionExecuting
		}
	}

	opts = opts.withDefaults()
	if err := tc.cfg.Templates.CheckPreset(opts.PresetID); err != nil {
		return models.AlertSession{}, err
	}

	countdown := tc.cfg.CountdownSeconds
	if opts.CountdownSeconds != nil {
		countdown = utils.ClampInt(*opts.CountdownSeconds, 0, MaxCountdownSeconds)
	}

	now := time.Now()
	session := &models.AlertSession{
		ID:                 utils.GenerateUUID(),
		UserID:             tc.cfg.UserID,
		CreatedAt:          now,
		State:              models.SessionStateIdle,
		CountdownRemaining: countdown,
		Mode:               opts.Mode,
		Severity:           opts.Severity,
		PresetID:           opts.PresetID,
		CustomMessage:      opts.CustomMessage,
		Warnings:           tc.permissionWarnings(opts.Mode),
	}

	if tc.cfg.Guard != nil {
		gctx, cancel := context.WithTimeout(ctx, guardCallTimeout)
		ok, err := tc.cfg.Guard.Acquire(gctx, tc.cfg.UserID, session.ID)
		cancel()
		if err != nil {
			logrus.WithField("userId", tc.cfg.UserID).Warnf("Session guard unavailable, continuing: %v", err)
		} else if !ok {
			return models.AlertSession{}, utils.ErrSessionActive
		}
	}

	tc.session = session
	tc.opts = opts

	if countdown == 0 {
		tc.setState(models.SessionStateCountdown)
		tc.beginExecution()
		return tc.session.Clone(), nil
	}

	tc.ticker = tc.cfg.NewTicker(tc.cfg.TickInterval)
	tc.setState(models.SessionStateCountdown)
	return tc.session.Clone(), nil
}

func (tc *TriggerController) handleCancel() (models.AlertSession, error) {
	if tc.session == nil {
		return models.AlertSession{}, utils.ErrNoActiveCountdown
	}
	switch tc.session.State {
	case models.SessionStateCountdown:
		return tc.cancelCountdown("cancelled by user"), nil
	case models.SessionStateExecuting:
		return tc.session.Clone(), utils.ErrSessionExecuting
	default:
		return tc.session.Clone(), utils.ErrNoActiveCountdown
	}
}

func (tc *TriggerController) handleTick() {
	if tc.session == nil || tc.session.State != models.SessionStateCountdown {
		tc.stopTicker()
		return
	}

	tc.session.CountdownRemaining--
	if tc.session.CountdownRemaining > 0 {
		tc.publish()
		return
	}
	tc.session.CountdownRemaining = 0
	tc.beginExecution()
}

// beginExecution is the point of no return. From here on a cancel is
// rejected and the alert runs to completion.
func (tc *TriggerController) beginExecution() {
	tc.stopTicker()

	now := time.Now()
	tc.session.ExecutedAt = &now
	tc.setState(models.SessionStateExecuting)

	snapshot := tc.session.Clone()
	opts := tc.opts
	stopping := tc.stopping
	tc.stopping = nil

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		if stopping != nil {
			<-stopping
		}
		result := tc.execute(snapshot, opts)

		select {
		case tc.events <- controllerEvent{kind: eventExecuted, result: &result}:
		case <-tc.done:
			logrus.WithFields(logrus.Fields{
				"sessionId": snapshot.ID,
				"userId":    snapshot.UserID,
			}).Warn("Controller closed before alert result was applied")
		}
	}()
}

func (tc *TriggerController) handleExecuted(result *executionResult) {
	if tc.session == nil || tc.session.ID != result.sessionID {
		return
	}

	executedAt := tc.session.ExecutedAt
	*tc.session = result.session
	tc.session.ExecutedAt = executedAt
	now := time.Now()
	tc.session.EndedAt = &now
	tc.session.SideEffects = tc.cfg.Effects.Flags()

	tc.releaseGuard(tc.session.ID)
	if result.err != nil {
		tc.session.ErrorReason = result.err.Error()
		tc.setState(models.SessionStateError)
	} else {
		tc.setState(models.SessionStateCompleted)
	}
}

// execute runs the alert off the controller goroutine: location snapshot,
// message, effects and dispatch in parallel, then the history write. The
// session always ends with every effect stopped.
func (tc *TriggerController) execute(session models.AlertSession, opts TriggerOptions) (result executionResult) {
	ctx := context.Background()
	result.sessionID = session.ID

	defer func() {
		if r := recover(); r != nil {
			result.err = &utils.PanicError{Value: r}
			result.session = session
		}
		session.EffectOutcomes = append(session.EffectOutcomes, tc.cfg.Effects.StopAll(ctx)...)
		result.session.EffectOutcomes = session.EffectOutcomes
	}()

	if latest, ok := tc.cfg.Location.GetLatest(); ok {
		session.LocationSnapshot = &latest
	}

	body, err := tc.cfg.Templates.Compose(opts, session.LocationSnapshot)
	if err != nil {
		session.ErrorReason = err.Error()
		result.session = session
		result.err = err
		return result
	}
	session.MessageBody = body

	var (
		wg       sync.WaitGroup
		outcomes []models.EffectOutcome
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes = tc.cfg.Effects.ApplyMode(ctx, session.Mode)
	}()

	contacts, err := tc.loadContacts(ctx)
	if err != nil {
		session.Warnings = append(session.Warnings, fmt.Sprintf("contacts unavailable: %v", err))
	}

	msg := models.AlertMessage{
		SessionID: session.ID,
		UserID:    session.UserID,
		Body:      body,
		Severity:  session.Severity,
		Location:  session.LocationSnapshot,
		CreatedAt: session.CreatedAt,
	}
	dispatch := tc.cfg.Dispatcher.Send(ctx, msg, contacts, tc.cfg.Channels)
	wg.Wait()

	session.Dispatch = &dispatch
	session.ChannelResults = dispatch.Results
	session.EffectOutcomes = outcomes
	session.SideEffects = tc.cfg.Effects.Flags()

	if err := tc.cfg.Recorder.Record(ctx, NewHistoryRecord(session, time.Now())); err != nil {
		session.Warnings = append(session.Warnings, fmt.Sprintf("history: %v", err))
	}

	result.session = session
	return result
}

func (tc *TriggerController) loadContacts(ctx context.Context) ([]models.Contact, error) {
	if tc.cfg.Contacts == nil {
		return nil, nil
	}
	return tc.cfg.Contacts.GetContacts(ctx, tc.cfg.UserID)
}

// cancelCountdown ends the session before anything external happened.
// Effects are stopped in case the user switched one on by hand.
func (tc *TriggerController) cancelCountdown(reason string) models.AlertSession {
	tc.stopTicker()
	now := time.Now()
	tc.session.EndedAt = &now
	tc.session.ErrorReason = ""
	tc.releaseGuard(tc.session.ID)
	tc.setState(models.SessionStateCancelled)

	logrus.WithFields(logrus.Fields{
		"sessionId": tc.session.ID,
		"userId":    tc.cfg.UserID,
	}).Info("Alert countdown cancelled: " + reason)

	effects, stopped := tc.cfg.Effects, make(chan struct{})
	tc.stopping = stopped
	go func() {
		defer close(stopped)
		effects.StopAll(context.Background())
	}()
	return tc.session.Clone()
}

// releaseGuard runs on the controller goroutine before the terminal state is
// published, so a trigger queued behind it never sees the old reservation.
func (tc *TriggerController) releaseGuard(sessionID string) {
	if tc.cfg.Guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), guardCallTimeout)
	defer cancel()
	if err := tc.cfg.Guard.Release(ctx, tc.cfg.UserID, sessionID); err != nil {
		logrus.WithField("userId", tc.cfg.UserID).Warnf("Failed to release session guard: %v", err)
	}
}

// permissionWarnings lists denied permissions that will degrade this alert.
func (tc *TriggerController) permissionWarnings(mode models.AlertMode) []string {
	var warnings []string
	if err := tc.cfg.Location.LastError(); err != nil && utils.LocationErrorCode(err) == models.LocationErrPermissionDenied {
		warnings = append(warnings, "location permission denied: the alert will not include your position")
	}
	if mode != models.AlertModeLoud {
		return warnings
	}
	caps := tc.cfg.Effects.Capabilities()
	if caps.PermissionDenied(models.PermissionMicrophone) {
		warnings = append(warnings, "microphone permission denied: recording will be skipped")
	}
	if caps.PermissionDenied(models.PermissionCamera) {
		warnings = append(warnings, "camera permission denied: flashlight will be skipped")
	}
	return warnings
}

func (tc *TriggerController) setState(state models.SessionState) {
	tc.session.State = state
	logrus.WithFields(logrus.Fields{
		"sessionId": tc.session.ID,
		"userId":    tc.cfg.UserID,
		"state":     state,
		"remaining": tc.session.CountdownRemaining,
	}).Info("Alert session state changed")
	tc.publish()
}

func (tc *TriggerController) publish() {
	snapshot := tc.session.Clone()
	tc.current.Store(&snapshot)
	if tc.cfg.OnUpdate != nil {
		tc.cfg.OnUpdate(snapshot.Clone())
	}
}

func (tc *TriggerController) stopTicker() {
	if tc.ticker != nil {
		tc.ticker.Stop()
		tc.ticker = nil
	}
}
