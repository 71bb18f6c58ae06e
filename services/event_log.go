package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// HistoryStore is an append-only record store. Append must be idempotent on
// the record id so a replayed record is not stored twice.
type HistoryStore interface {
	Append(ctx context.Context, record models.HistoryRecord) error
	ReadRecent(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error)
}

// EventLogWriter writes every completed session to the remote store and the
// local backup. Neither write waits on or depends on the other.
type EventLogWriter struct {
	remote HistoryStore
	local  HistoryStore
}

func NewEventLogWriter(remote, local HistoryStore) *EventLogWriter {
	return &EventLogWriter{remote: remote, local: local}
}

// Record persists the record to both stores. The returned error only
// describes which store failed; the caller treats it as data.
func (w *EventLogWriter) Record(ctx context.Context, record models.HistoryRecord) error {
	var (
		wg        sync.WaitGroup
		remoteErr error
		localErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		remoteErr = w.write(ctx, "remote", w.remote, record)
	}()
	go func() {
		defer wg.Done()
		localErr = w.write(ctx, "local", w.local, record)
	}()
	wg.Wait()

	entry := logrus.WithFields(logrus.Fields{
		"sessionId": record.SessionID,
		"userId":    record.UserID,
	})
	if remoteErr != nil {
		entry.Warnf("%v; relying on local backup", remoteErr)
	}
	if localErr != nil {
		entry.Errorf("%v", localErr)
	}
	if remoteErr == nil && localErr == nil {
		entry.Info("Alert history recorded")
	}
	return errors.Join(remoteErr, localErr)
}

func (w *EventLogWriter) write(ctx context.Context, name string, store HistoryStore, record models.HistoryRecord) (err error) {
	if store == nil {
		return &utils.PersistenceError{Store: name, Op: "append", Err: errors.New("store not configured")}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &utils.PersistenceError{Store: name, Op: "append", Err: &utils.PanicError{Value: r}}
		}
	}()
	if err := store.Append(ctx, record); err != nil {
		return &utils.PersistenceError{Store: name, Op: "append", Err: err}
	}
	return nil
}

// ReadRecent returns the user's records most recent first. The local backup
// is only consulted when the remote read fails.
func (w *EventLogWriter) ReadRecent(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	limit = ClampHistoryLimit(limit)

	var remoteErr error
	if w.remote != nil {
		records, err := w.remote.ReadRecent(ctx, userID, limit)
		if err == nil {
			return records, nil
		}
		remoteErr = &utils.PersistenceError{Store: "remote", Op: "read", Err: err}
		logrus.WithField("userId", userID).Warnf("%v; serving local backup", remoteErr)
	}

	if w.local == nil {
		return nil, remoteErr
	}
	records, err := w.local.ReadRecent(ctx, userID, limit)
	if err != nil {
		localErr := &utils.PersistenceError{Store: "local", Op: "read", Err: err}
		return nil, errors.Join(remoteErr, localErr)
	}
	return records, nil
}

func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// NewHistoryRecord projects a finished session. The record id is the session
// id, which is what makes appends idempotent.
func NewHistoryRecord(session models.AlertSession, completedAt time.Time) models.HistoryRecord {
	record := models.HistoryRecord{
		ID:             session.ID,
		SessionID:      session.ID,
		UserID:         session.UserID,
		Message:        session.MessageBody,
		Mode:           session.Mode,
		Severity:       session.Severity,
		Contacted:      []string{},
		ChannelResults: append([]models.ChannelResult{}, session.ChannelResults...),
		SideEffects:    session.SideEffects,
		TriggeredAt:    session.CreatedAt,
		CompletedAt:    completedAt,
	}
	if session.LocationSnapshot != nil {
		loc := *session.LocationSnapshot
		record.Location = &loc
	}
	if session.ExecutedAt != nil {
		record.ExecutedAt = *session.ExecutedAt
	}
	if session.Dispatch != nil {
		record.Success = session.Dispatch.Success
	}

	for _, r := range session.ChannelResults {
		if len(r.Deliveries) == 0 && r.Status == models.DeliverySuccess {
			record.Contacted = append(record.Contacted, fmt.Sprintf("%s:%s", r.ChannelType, r.Target))
			continue
		}
		for _, d := range r.Deliveries {
			if d.Status == models.DeliverySuccess {
				record.Contacted = append(record.Contacted, fmt.Sprintf("%s:%s", r.ChannelType, d.Target))
			}
		}
	}
	return record
}
