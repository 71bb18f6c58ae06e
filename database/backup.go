package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// OpenBackup opens the local sqlite file that mirrors alert history. A bare
// path gets a busy timeout so the sync worker and the writer can share it.
func OpenBackup(ctx context.Context, path string) (*sql.DB, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = "safewalk-backup.db"
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backup store: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping backup store: %w", err)
	}

	logrus.Infof("💾 Local backup store: %s", path)
	return db, nil
}
