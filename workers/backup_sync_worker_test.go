package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"safewalk/models"
	"safewalk/repositories"
)

type fakeBackup struct {
	entries []repositories.BackupEntry
	reads   int
}

func (f *fakeBackup) ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]repositories.BackupEntry, error) {
	f.reads++
	var out []repositories.BackupEntry
	for _, e := range f.entries {
		if e.Seq > afterSeq && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeRemote struct {
	appended []string
	failOn   string
}

func (f *fakeRemote) Append(ctx context.Context, record models.HistoryRecord) error {
	if record.ID == f.failOn {
		return errors.New("remote unavailable")
	}
	f.appended = append(f.appended, record.ID)
	return nil
}

type memCursor struct {
	seq   int64
	saves int
}

func (c *memCursor) Load(ctx context.Context) (int64, error) { return c.seq, nil }

func (c *memCursor) Save(ctx context.Context, seq int64) error {
	c.seq = seq
	c.saves++
	return nil
}

// keyedCursors stores cursors by key, the way redis holds them for every
// instance.
type keyedCursors map[string]int64

type keyedCursor struct {
	store keyedCursors
	key   string
}

func (c keyedCursor) Load(ctx context.Context) (int64, error) { return c.store[c.key], nil }

func (c keyedCursor) Save(ctx context.Context, seq int64) error {
	c.store[c.key] = seq
	return nil
}

func backupOf(n int) *fakeBackup {
	b := &fakeBackup{}
	for i := 1; i <= n; i++ {
		b.entries = append(b.entries, repositories.BackupEntry{
			Seq:    int64(i * 10),
			Record: models.HistoryRecord{ID: fmt.Sprintf("s-%d", i), SessionID: fmt.Sprintf("s-%d", i)},
		})
	}
	return b
}

func TestSyncOnceReplaysInBatches(t *testing.T) {
	local := backupOf(5)
	remote := &fakeRemote{}
	cursor := &memCursor{}
	w := NewBackupSyncWorker(local, remote, cursor, BackupSyncWorkerConfig{BatchSize: 2})

	synced, err := w.SyncOnce(context.Background())
	if err != nil || synced != 5 {
		t.Fatalf("synced %d, err %v", synced, err)
	}
	if len(remote.appended) != 5 || remote.appended[4] != "s-5" {
		t.Fatalf("appended %v", remote.appended)
	}
	if cursor.seq != 50 || local.reads != 3 {
		t.Fatalf("cursor %d after %d reads", cursor.seq, local.reads)
	}

	// nothing new: no appends, no cursor write
	saves := cursor.saves
	if synced, err := w.SyncOnce(context.Background()); err != nil || synced != 0 || cursor.saves != saves {
		t.Fatalf("second run synced %d, err %v, saves %d", synced, err, cursor.saves)
	}

	stats := w.GetStats()
	if stats.Runs != 2 || stats.RecordsSynced != 5 || stats.Cursor != 50 || stats.Failures != 0 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestSyncOnceStopsAtFailedAppend(t *testing.T) {
	local := backupOf(5)
	remote := &fakeRemote{failOn: "s-4"}
	cursor := &memCursor{}
	w := NewBackupSyncWorker(local, remote, cursor, BackupSyncWorkerConfig{BatchSize: 2})

	synced, err := w.SyncOnce(context.Background())
	if err == nil || synced != 3 {
		t.Fatalf("synced %d, err %v", synced, err)
	}
	if cursor.seq != 30 {
		t.Fatalf("cursor %d, want 30", cursor.seq)
	}
	if stats := w.GetStats(); stats.Failures != 1 || stats.LastError == "" {
		t.Fatalf("stats %+v", stats)
	}

	// the remote recovers and the next run resumes at s-4
	remote.failOn = ""
	synced, err = w.SyncOnce(context.Background())
	if err != nil || synced != 2 || cursor.seq != 50 {
		t.Fatalf("resume synced %d, cursor %d, err %v", synced, cursor.seq, err)
	}
	if remote.appended[3] != "s-4" {
		t.Fatalf("appended %v", remote.appended)
	}
	if w.GetStats().LastError != "" {
		t.Fatalf("successful run kept the old error")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	w := NewBackupSyncWorker(backupOf(0), &fakeRemote{}, &memCursor{}, BackupSyncWorkerConfig{Schedule: "every so often"})
	if err := w.Start(); err == nil {
		t.Fatalf("bad schedule accepted")
	}

	ok := NewBackupSyncWorker(backupOf(0), &fakeRemote{}, &memCursor{}, BackupSyncWorkerConfig{})
	if err := ok.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ok.Stop()
	ok.Stop()
}

func TestEachBackupLogKeepsItsOwnCursor(t *testing.T) {
	store := keyedCursors{}
	remote := &fakeRemote{}
	cursorFor := func(logID string) keyedCursor {
		return keyedCursor{store: store, key: NewRedisSyncCursor(nil, logID).Key()}
	}

	// instance A wrote more rows than B; both number from 10
	logA := backupOf(10)
	logB := &fakeBackup{}
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("b-%d", i)
		logB.entries = append(logB.entries, repositories.BackupEntry{
			Seq:    int64(i * 10),
			Record: models.HistoryRecord{ID: id, SessionID: id},
		})
	}

	a := NewBackupSyncWorker(logA, remote, cursorFor("log-a"), BackupSyncWorkerConfig{})
	b := NewBackupSyncWorker(logB, remote, cursorFor("log-b"), BackupSyncWorkerConfig{})

	if synced, err := a.SyncOnce(context.Background()); err != nil || synced != 10 {
		t.Fatalf("log a synced %d, err %v", synced, err)
	}
	if synced, err := b.SyncOnce(context.Background()); err != nil || synced != 3 {
		t.Fatalf("log b synced %d after log a advanced, err %v", synced, err)
	}
	if len(remote.appended) != 13 {
		t.Fatalf("appended %v", remote.appended)
	}
	if len(store) != 2 {
		t.Fatalf("cursor keys %v", store)
	}
}
