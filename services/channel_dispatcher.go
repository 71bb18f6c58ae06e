package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

const DefaultChannelTimeout = 10 * time.Second

// Channel is one outbound notification mechanism. Implementations only need
// to deliver to a single target; fan-out, timeouts and failure isolation are
// the dispatcher's job.
type Channel interface {
	Type() string
	// Targets picks the applicable targets for this channel from the user's
	// contacts. Channels that post to a fixed room ignore contacts.
	Targets(contacts []models.Contact) []string
	Send(ctx context.Context, msg models.AlertMessage, target string) error
}

// ConfiguredChannel is a channel plus its per-channel delivery bound.
type ConfiguredChannel struct {
	Channel Channel
	Timeout time.Duration
}

type ChannelDispatcher struct {
	defaultTimeout  time.Duration
	emergencyNumber string
}

func NewChannelDispatcher(defaultTimeout time.Duration, emergencyNumber string) *ChannelDispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultChannelTimeout
	}
	return &ChannelDispatcher{
		defaultTimeout:  defaultTimeout,
		emergencyNumber: emergencyNumber,
	}
}

// Send attempts every configured channel concurrently and returns exactly one
// result per channel, in configured order. No channel failure, hang or panic
// affects any other channel.
func (d *ChannelDispatcher) Send(ctx context.Context, msg models.AlertMessage, contacts []models.Contact, channels []ConfiguredChannel) models.DispatchResult {
	results := make([]models.ChannelResult, len(channels))

	var wg sync.WaitGroup
	for i, cc := range channels {
		wg.Add(1)
		go func(i int, cc ConfiguredChannel) {
			defer wg.Done()
			results[i] = d.sendChannel(ctx, msg, contacts, cc)
		}(i, cc)
	}
	wg.Wait()

	success := false
	for _, r := range results {
		if r.Status == models.DeliverySuccess {
			success = true
			break
		}
	}

	fallback := d.manualAction(msg, contacts)
	fallback.Required = !success

	logrus.WithFields(logrus.Fields{
		"sessionId": msg.SessionID,
		"userId":    msg.UserID,
		"channels":  len(channels),
		"success":   success,
	}).Info("Alert dispatch finished")

	return models.DispatchResult{
		Results:  results,
		Success:  success,
		Fallback: fallback,
	}
}

func (d *ChannelDispatcher) sendChannel(ctx context.Context, msg models.AlertMessage, contacts []models.Contact, cc ConfiguredChannel) (result models.ChannelResult) {
	channelType := "unknown"
	if cc.Channel != nil {
		channelType = safeChannelType(cc.Channel)
	}
	result = models.ChannelResult{
		ChannelType: channelType,
		Status:      models.DeliveryPending,
		Timestamp:   time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = models.DeliveryFailed
			result.ErrorReason = (&utils.PanicError{Value: r}).Error()
			result.Timestamp = time.Now()
		}
		d.logResult(msg, result)
	}()

	if cc.Channel == nil {
		result.Status = models.DeliveryFailed
		result.ErrorReason = "channel not configured"
		return result
	}

	targets := cc.Channel.Targets(contacts)
	result.Target = strings.Join(targets, ", ")
	if len(targets) == 0 {
		result.Status = models.DeliveryFailed
		result.ErrorReason = "no applicable targets"
		result.Timestamp = time.Now()
		return result
	}

	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	chCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := make([]models.DeliveryAttempt, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			attempts[i] = d.attempt(chCtx, cc.Channel, channelType, msg, target, timeout)
		}(i, target)
	}
	wg.Wait()

	result.Deliveries = attempts
	result.Timestamp = time.Now()
	result.Status = models.DeliveryFailed

	var failures []string
	for _, a := range attempts {
		if a.Status == models.DeliverySuccess {
			result.Status = models.DeliverySuccess
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", a.Target, a.ErrorReason))
		}
	}
	if result.Status == models.DeliveryFailed {
		result.ErrorReason = strings.Join(failures, "; ")
	}
	return result
}

// attempt runs one send and returns as soon as it finishes or the channel
// deadline passes. A send that ignores its context keeps running in the
// background but no longer holds up the dispatch.
func (d *ChannelDispatcher) attempt(ctx context.Context, ch Channel, channelType string, msg models.AlertMessage, target string, timeout time.Duration) models.DeliveryAttempt {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &utils.PanicError{Value: r}
			}
		}()
		done <- ch.Send(ctx, msg, target)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timed out after %s", timeout)
	}

	attempt := models.DeliveryAttempt{
		Target:   target,
		Status:   models.DeliverySuccess,
		Duration: time.Since(start),
	}
	if err != nil {
		deliveryErr := &utils.ChannelDeliveryError{Channel: channelType, Target: target, Err: err}
		attempt.Status = models.DeliveryFailed
		attempt.ErrorReason = err.Error()
		logrus.WithFields(logrus.Fields{
			"sessionId": msg.SessionID,
			"channel":   channelType,
			"target":    target,
		}).Warn(deliveryErr.Error())
	}
	return attempt
}

// manualAction builds the copy-ready text and dial list that is always shown,
// whatever the automated channels did.
func (d *ChannelDispatcher) manualAction(msg models.AlertMessage, contacts []models.Contact) models.ManualAction {
	action := models.ManualAction{
		CopyText:    msg.Body,
		DialNumbers: []string{},
		DialLinks:   []string{},
	}

	seen := make(map[string]bool)
	add := func(number string) {
		if number == "" || seen[number] {
			return
		}
		seen[number] = true
		action.DialNumbers = append(action.DialNumbers, number)
		action.DialLinks = append(action.DialLinks, "tel:"+number)
	}
	if d.emergencyNumber != "" {
		add(d.emergencyNumber)
	}
	for _, c := range contacts {
		if phone, err := utils.NormalizePhone(c.Phone); err == nil {
			add(phone)
		}
	}
	return action
}

func (d *ChannelDispatcher) logResult(msg models.AlertMessage, result models.ChannelResult) {
	entry := logrus.WithFields(logrus.Fields{
		"sessionId": msg.SessionID,
		"channel":   result.ChannelType,
		"target":    maskTargets(result.Target),
		"status":    result.Status,
	})
	if result.Status == models.DeliverySuccess {
		entry.Info("Channel delivered")
		return
	}
	entry.Warnf("Channel failed: %s", result.ErrorReason)
}

// maskTargets hides all but the last digits of phone numbers in logs.
func maskTargets(joined string) string {
	targets := strings.Split(joined, ", ")
	for i, t := range targets {
		if strings.HasPrefix(t, "+") {
			targets[i] = utils.MaskPhoneNumber(t)
		}
	}
	return strings.Join(targets, ", ")
}

func safeChannelType(ch Channel) (t string) {
	defer func() {
		if recover() != nil {
			t = "unknown"
		}
	}()
	return ch.Type()
}
