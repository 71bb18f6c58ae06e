package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/repositories"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	backupCursorKeyPrefix = "sos:backup:cursor:"
	defaultSyncBatchSize  = 100
	defaultSyncTimeout    = 30 * time.Second
)

// BackupReader is the local append-only history log.
type BackupReader interface {
	ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]repositories.BackupEntry, error)
}

// HistoryAppender is the remote history store. Append must be idempotent on
// the record id.
type HistoryAppender interface {
	Append(ctx context.Context, record models.HistoryRecord) error
}

// SyncCursor remembers the last backup sequence replayed to the remote store.
type SyncCursor interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, seq int64) error
}

// RedisSyncCursor keeps the cursor of one backup log in redis. Each log has
// its own seq numbering, so the key carries the log id and instances never
// advance each other's cursor.
type RedisSyncCursor struct {
	client *redis.Client
	key    string
}

func NewRedisSyncCursor(client *redis.Client, logID string) *RedisSyncCursor {
	return &RedisSyncCursor{client: client, key: backupCursorKeyPrefix + logID}
}

func (c *RedisSyncCursor) Key() string { return c.key }

func (c *RedisSyncCursor) Load(ctx context.Context) (int64, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt backup cursor %q: %w", val, err)
	}
	return seq, nil
}

func (c *RedisSyncCursor) Save(ctx context.Context, seq int64) error {
	return c.client.Set(ctx, c.key, seq, 0).Err()
}

type BackupSyncWorkerConfig struct {
	Schedule    string        `json:"schedule"`
	BatchSize   int           `json:"batchSize"`
	SyncTimeout time.Duration `json:"syncTimeout"`
}

type BackupSyncWorkerStats struct {
	Runs          int64     `json:"runs"`
	Failures      int64     `json:"failures"`
	RecordsSynced int64     `json:"recordsSynced"`
	Cursor        int64     `json:"cursor"`
	LastRunAt     time.Time `json:"lastRunAt"`
	LastError     string    `json:"lastError,omitempty"`
}

// BackupSyncWorker replays the local history log into the remote store on a
// cron schedule. The local log is only ever read.
type BackupSyncWorker struct {
	local  BackupReader
	remote HistoryAppender
	cursor SyncCursor

	config BackupSyncWorkerConfig
	cron   *cron.Cron

	// Worker state
	isRunning bool
	mutex     sync.Mutex
	syncMutex sync.Mutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	stats      BackupSyncWorkerStats
	statsMutex sync.RWMutex
}

func NewBackupSyncWorker(local BackupReader, remote HistoryAppender, cursor SyncCursor, config BackupSyncWorkerConfig) *BackupSyncWorker {
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultSyncBatchSize
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaultSyncTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(logrus.StandardLogger())

	return &BackupSyncWorker{
		local:  local,
		remote: remote,
		cursor: cursor,
		config: config,
		cron:   cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *BackupSyncWorker) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.isRunning {
		return nil
	}

	if _, err := w.cron.AddFunc(w.config.Schedule, w.run); err != nil {
		return fmt.Errorf("invalid backup sync schedule %q: %w", w.config.Schedule, err)
	}
	w.cron.Start()
	w.isRunning = true

	logrus.Infof("Backup sync worker started (%s)", w.config.Schedule)
	return nil
}

func (w *BackupSyncWorker) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.isRunning {
		return
	}

	w.cancel()
	<-w.cron.Stop().Done()
	w.isRunning = false

	logrus.Info("Backup sync worker stopped")
}

func (w *BackupSyncWorker) run() {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.SyncTimeout)
	defer cancel()

	synced, err := w.SyncOnce(ctx)
	if err != nil {
		logrus.Warnf("Backup sync stopped after %d records: %v", synced, err)
		return
	}
	if synced > 0 {
		logrus.Infof("Backup sync replayed %d records", synced)
	}
}

// SyncOnce replays every backup entry after the cursor, batch by batch. On a
// failed append it saves the cursor at the last replayed entry and returns.
func (w *BackupSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	w.syncMutex.Lock()
	defer w.syncMutex.Unlock()

	synced := 0
	cursor, err := w.cursor.Load(ctx)
	if err != nil {
		w.recordRun(synced, cursor, err)
		return 0, fmt.Errorf("load backup cursor: %w", err)
	}

	for {
		entries, err := w.local.ReadAfter(ctx, cursor, w.config.BatchSize)
		if err != nil {
			w.recordRun(synced, cursor, err)
			return synced, fmt.Errorf("read backup: %w", err)
		}

		last := cursor
		var appendErr error
		for _, entry := range entries {
			if appendErr = w.remote.Append(ctx, entry.Record); appendErr != nil {
				appendErr = fmt.Errorf("replay session %s: %w", entry.Record.SessionID, appendErr)
				break
			}
			last = entry.Seq
			synced++
		}

		if last != cursor {
			if err := w.cursor.Save(ctx, last); err != nil {
				w.recordRun(synced, cursor, err)
				return synced, fmt.Errorf("save backup cursor: %w", err)
			}
			cursor = last
		}

		if appendErr != nil {
			w.recordRun(synced, cursor, appendErr)
			return synced, appendErr
		}
		if len(entries) < w.config.BatchSize {
			w.recordRun(synced, cursor, nil)
			return synced, nil
		}
	}
}

func (w *BackupSyncWorker) recordRun(synced int, cursor int64, err error) {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()

	w.stats.Runs++
	w.stats.RecordsSynced += int64(synced)
	w.stats.Cursor = cursor
	w.stats.LastRunAt = time.Now()
	w.stats.LastError = ""
	if err != nil {
		w.stats.Failures++
		w.stats.LastError = err.Error()
	}
}

func (w *BackupSyncWorker) GetStats() BackupSyncWorkerStats {
	w.statsMutex.RLock()
	defer w.statsMutex.RUnlock()
	return w.stats
}
