package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"safewalk/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BackupRepository is the local append-only log of alert history. Each
// record is one row; nothing is ever rewritten or deleted.
type BackupRepository struct {
	db *sql.DB
}

// BackupEntry is a stored record with its position in the log.
type BackupEntry struct {
	Seq    int64
	Record models.HistoryRecord
}

func NewBackupRepository(db *sql.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Init creates the log table. A unique session id keeps a replayed append
// from adding a second row.
func (br *BackupRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_backup (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			triggered_at INTEGER NOT NULL,
			payload TEXT NOT NULL,
			stored_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_backup_user_ts ON alert_backup(user_id, triggered_at)`,
		`CREATE TABLE IF NOT EXISTS backup_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := br.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// LogID identifies this log file. It is generated on first use and stored in
// the file, so seq values are only comparable between readers of the same id.
func (br *BackupRepository) LogID(ctx context.Context) (string, error) {
	if _, err := br.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO backup_meta (key, value) VALUES ('log_id', ?)`,
		uuid.New().String(),
	); err != nil {
		return "", fmt.Errorf("create backup log id: %w", err)
	}

	var id string
	if err := br.db.QueryRowContext(ctx, `SELECT value FROM backup_meta WHERE key = 'log_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("read backup log id: %w", err)
	}
	return id, nil
}

func (br *BackupRepository) Append(ctx context.Context, record models.HistoryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode backup record: %w", err)
	}

	_, err = br.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alert_backup (session_id, user_id, triggered_at, payload, stored_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.SessionID,
		record.UserID,
		record.TriggeredAt.UnixNano(),
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		logrus.Errorf("Failed to append alert backup: %v", err)
		return err
	}
	return nil
}

// ReadRecent returns the user's records, most recent first.
func (br *BackupRepository) ReadRecent(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	rows, err := br.db.QueryContext(ctx,
		`SELECT seq, payload FROM alert_backup
		WHERE user_id = ?
		ORDER BY triggered_at DESC, seq DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	entries, err := scanBackupRows(rows)
	if err != nil {
		return nil, err
	}

	records := make([]models.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return records, nil
}

// ReadAfter returns up to limit entries with seq greater than afterSeq, in
// log order.
func (br *BackupRepository) ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]BackupEntry, error) {
	rows, err := br.db.QueryContext(ctx,
		`SELECT seq, payload FROM alert_backup WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanBackupRows(rows)
}

func (br *BackupRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := br.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_backup`).Scan(&n)
	return n, err
}

func (br *BackupRepository) Ping(ctx context.Context) error {
	return br.db.PingContext(ctx)
}

func scanBackupRows(rows *sql.Rows) ([]BackupEntry, error) {
	defer rows.Close()

	var entries []BackupEntry
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		var record models.HistoryRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			logrus.Warnf("Skipping unreadable backup row %d: %v", seq, err)
			continue
		}
		entries = append(entries, BackupEntry{Seq: seq, Record: record})
	}
	return entries, rows.Err()
}
