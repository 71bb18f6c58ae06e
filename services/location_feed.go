package services

import (
	"sync"
	"sync/atomic"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

const (
	DefaultLocationHistorySize = 100
	// MaxLocationClockSkew is how far ahead of the server clock a sample may
	// be stamped before its timestamp is replaced by the arrival time.
	MaxLocationClockSkew = 2 * time.Minute
)

// LocationSource is a platform location provider: the browser over the
// websocket, a wearable over MQTT, or an HTTP push.
type LocationSource interface {
	Subscribe(onSample func(models.LocationSample), onError func(error)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

type locationError struct {
	err error
	at  time.Time
}

type locationListener struct {
	onSample func(models.LocationSample)
	onError  func(error)
}

// LocationFeed keeps the latest fix and a bounded trail for one user. The
// latest sample is published through an atomic pointer so readers never wait
// on a source.
type LocationFeed struct {
	userID string

	latest  atomic.Pointer[models.LocationSample]
	lastErr atomic.Pointer[locationError]

	mu       sync.Mutex
	trail    []models.LocationSample
	head     int
	size     int
	capacity int

	listenerMu sync.RWMutex
	listeners  map[int]locationListener
	nextID     int
}

func NewLocationFeed(userID string, historySize int) *LocationFeed {
	if historySize <= 0 {
		historySize = DefaultLocationHistorySize
	}
	return &LocationFeed{
		userID:    userID,
		trail:     make([]models.LocationSample, historySize),
		capacity:  historySize,
		listeners: make(map[int]locationListener),
	}
}

// Attach starts continuous delivery from a source into the feed.
func (f *LocationFeed) Attach(source LocationSource) (Subscription, error) {
	return source.Subscribe(f.Publish, f.PublishError)
}

// Subscribe registers callbacks for every sample and error the feed accepts.
// The returned handle removes them.
func (f *LocationFeed) Subscribe(onSample func(models.LocationSample), onError func(error)) Subscription {
	f.listenerMu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = locationListener{onSample: onSample, onError: onError}
	f.listenerMu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			f.listenerMu.Lock()
			delete(f.listeners, id)
			f.listenerMu.Unlock()
		})
	})
}

// Publish records a sample. Samples older than the current latest fix are
// dropped so the trail stays chronological. A sample stamped more than
// MaxLocationClockSkew ahead is kept at its arrival time.
func (f *LocationFeed) Publish(sample models.LocationSample) {
	if !utils.IsValidCoordinate(sample.Latitude, sample.Longitude) {
		logrus.WithField("userId", f.userID).Warnf("Dropping invalid location %.6f,%.6f", sample.Latitude, sample.Longitude)
		return
	}
	now := time.Now()
	switch {
	case sample.Timestamp.IsZero():
		sample.Timestamp = now
	case sample.Timestamp.Sub(now) > MaxLocationClockSkew:
		logrus.WithFields(logrus.Fields{
			"userId": f.userID,
			"skew":   sample.Timestamp.Sub(now).String(),
		}).Warn("Location sample stamped in the future, using arrival time")
		sample.Timestamp = now
	}

	f.mu.Lock()
	if cur := f.latest.Load(); cur != nil && sample.Timestamp.Before(cur.Timestamp) {
		f.mu.Unlock()
		logrus.WithField("userId", f.userID).Debug("Dropping out-of-order location sample")
		return
	}
	idx := (f.head + f.size) % f.capacity
	if f.size == f.capacity {
		f.head = (f.head + 1) % f.capacity
	} else {
		f.size++
	}
	f.trail[idx] = sample
	published := sample
	f.latest.Store(&published)
	f.lastErr.Store(nil)
	f.mu.Unlock()

	for _, l := range f.snapshotListeners() {
		if l.onSample != nil {
			l.onSample(sample)
		}
	}
}

// PublishError records a source error. The latest sample is kept: a stale
// fix is still better than none.
func (f *LocationFeed) PublishError(err error) {
	if err == nil {
		return
	}
	f.lastErr.Store(&locationError{err: err, at: time.Now()})
	logrus.WithFields(logrus.Fields{
		"userId": f.userID,
		"code":   utils.LocationErrorCode(err),
	}).Warnf("Location source error: %v", err)

	for _, l := range f.snapshotListeners() {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// GetLatest returns the most recent sample without blocking.
func (f *LocationFeed) GetLatest() (models.LocationSample, bool) {
	p := f.latest.Load()
	if p == nil {
		return models.LocationSample{}, false
	}
	return *p, true
}

// LastError returns the last source error, cleared by the next good sample.
func (f *LocationFeed) LastError() error {
	if e := f.lastErr.Load(); e != nil {
		return e.err
	}
	return nil
}

// Trail returns the retained samples, oldest first.
func (f *LocationFeed) Trail() []models.LocationSample {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.LocationSample, f.size)
	for i := 0; i < f.size; i++ {
		out[i] = f.trail[(f.head+i)%f.capacity]
	}
	return out
}

func (f *LocationFeed) Status() models.LocationStatus {
	trail := f.Trail()

	status := models.LocationStatus{TrailSize: len(trail)}
	for i := 1; i < len(trail); i++ {
		prev, cur := trail[i-1], trail[i]
		status.TrailMeters += utils.CalculateDistance(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}
	if latest, ok := f.GetLatest(); ok {
		status.Latest = &latest
		status.Tier = latest.Tier()
	}
	if e := f.lastErr.Load(); e != nil {
		status.LastError = utils.LocationErrorCode(e.err)
		at := e.at
		status.ErrorAt = &at
	}
	return status
}

func (f *LocationFeed) snapshotListeners() []locationListener {
	f.listenerMu.RLock()
	defer f.listenerMu.RUnlock()

	out := make([]locationListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		out = append(out, l)
	}
	return out
}

// PushLocationSource is fed by transport handlers (websocket, HTTP) and fans
// samples out to its subscribers.
type PushLocationSource struct {
	mu       sync.RWMutex
	handlers map[int]locationListener
	nextID   int
}

func NewPushLocationSource() *PushLocationSource {
	return &PushLocationSource{handlers: make(map[int]locationListener)}
}

func (s *PushLocationSource) Subscribe(onSample func(models.LocationSample), onError func(error)) (Subscription, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = locationListener{onSample: onSample, onError: onError}
	s.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}), nil
}

func (s *PushLocationSource) Emit(sample models.LocationSample) {
	for _, h := range s.snapshot() {
		if h.onSample != nil {
			h.onSample(sample)
		}
	}
}

func (s *PushLocationSource) EmitError(err error) {
	for _, h := range s.snapshot() {
		if h.onError != nil {
			h.onError(err)
		}
	}
}

func (s *PushLocationSource) snapshot() []locationListener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]locationListener, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}
