package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

func testRecord(id string) models.HistoryRecord {
	return models.HistoryRecord{ID: id, SessionID: id, UserID: "user-1", Message: "help", CompletedAt: time.Now()}
}

type panickyStore struct{ fakeHistoryStore }

func (p *panickyStore) Append(context.Context, models.HistoryRecord) error { panic("disk on fire") }

func TestEventLogRemoteFailureStillWritesLocal(t *testing.T) {
	remote := &fakeHistoryStore{writeErr: errBoom}
	local := &fakeHistoryStore{}
	w := NewEventLogWriter(remote, local)

	err := w.Record(context.Background(), testRecord("s-1"))
	if err == nil {
		t.Fatalf("expected the remote failure to be reported")
	}
	var pe *utils.PersistenceError
	if !errors.As(err, &pe) || pe.Store != "remote" {
		t.Fatalf("error %v does not name the remote store", err)
	}
	if local.count() != 1 {
		t.Fatalf("local backup has %d records, want 1", local.count())
	}
}

func TestEventLogLocalPanicDoesNotLoseRemote(t *testing.T) {
	remote := &fakeHistoryStore{}
	w := NewEventLogWriter(remote, &panickyStore{})

	err := w.Record(context.Background(), testRecord("s-1"))
	if err == nil {
		t.Fatalf("expected local failure")
	}
	if remote.count() != 1 {
		t.Fatalf("remote has %d records, want 1", remote.count())
	}
}

func TestEventLogMissingStore(t *testing.T) {
	local := &fakeHistoryStore{}
	w := NewEventLogWriter(nil, local)
	if err := w.Record(context.Background(), testRecord("s-1")); err == nil {
		t.Fatalf("expected error for missing remote store")
	}
	if local.count() != 1 {
		t.Fatalf("local write skipped")
	}
}

func TestEventLogReadFallsBackToLocal(t *testing.T) {
	remote := &fakeHistoryStore{readErr: errBoom}
	local := &fakeHistoryStore{}
	for _, id := range []string{"a", "b", "c"} {
		local.Append(context.Background(), testRecord(id))
	}
	w := NewEventLogWriter(remote, local)

	records, err := w.ReadRecent(context.Background(), "user-1", 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 || records[0].ID != "c" || records[1].ID != "b" {
		t.Fatalf("records %+v", records)
	}

	local.readErr = errBoom
	if _, err := w.ReadRecent(context.Background(), "user-1", 2); err == nil {
		t.Fatalf("expected error when both stores fail")
	}
}

func TestClampHistoryLimit(t *testing.T) {
	cases := map[int]int{0: DefaultHistoryLimit, -3: DefaultHistoryLimit, 5: 5, 100: 100, 500: MaxHistoryLimit}
	for in, want := range cases {
		if got := ClampHistoryLimit(in); got != want {
			t.Fatalf("ClampHistoryLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewHistoryRecord(t *testing.T) {
	created := time.Now().Add(-10 * time.Second)
	executed := created.Add(5 * time.Second)
	loc := models.LocationSample{Latitude: 1, Longitude: 2}
	session := models.AlertSession{
		ID:               "s-1",
		UserID:           "user-1",
		CreatedAt:        created,
		ExecutedAt:       &executed,
		Mode:             models.AlertModeLoud,
		Severity:         models.SeverityHigh,
		MessageBody:      "[URGENT] help",
		LocationSnapshot: &loc,
		ChannelResults: []models.ChannelResult{
			{ChannelType: "sms", Status: models.DeliveryFailed, Deliveries: []models.DeliveryAttempt{
				{Target: "+15550000001", Status: models.DeliverySuccess},
				{Target: "+15550000002", Status: models.DeliveryFailed},
			}},
			{ChannelType: "slack", Target: "#alerts", Status: models.DeliverySuccess},
			{ChannelType: "push", Status: models.DeliveryFailed},
		},
		Dispatch: &models.DispatchResult{Success: true},
	}

	rec := NewHistoryRecord(session, time.Now())
	if rec.ID != "s-1" || rec.SessionID != "s-1" {
		t.Fatalf("ids %s/%s", rec.ID, rec.SessionID)
	}
	if !rec.ExecutedAt.Equal(executed) || !rec.TriggeredAt.Equal(created) || !rec.Success {
		t.Fatalf("record %+v", rec)
	}
	want := []string{"sms:+15550000001", "slack:#alerts"}
	if len(rec.Contacted) != len(want) {
		t.Fatalf("contacted %v, want %v", rec.Contacted, want)
	}
	for i := range want {
		if rec.Contacted[i] != want[i] {
			t.Fatalf("contacted %v, want %v", rec.Contacted, want)
		}
	}

	loc.Latitude = 50
	if rec.Location.Latitude != 1 {
		t.Fatalf("record shares the session's location")
	}
}
