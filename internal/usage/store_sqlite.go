package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLite has a default limit of 999 bindable parameters per query
// (SQLITE_MAX_VARIABLE_NUMBER). With 12 columns per entry we insert at most
// 83 entries per statement.
const (
	maxSQLiteParams = 999
	columnsPerEntry = 12
	maxPerBatch     = maxSQLiteParams / columnsPerEntry
)

// CleanupInterval is how often old ledger rows are deleted.
const CleanupInterval = time.Hour

// SQLiteStore implements Store for a local SQLite ledger.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// OpenSQLite opens (creating if necessary) the ledger database at path with
// WAL mode for concurrent reads during writes.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = ".cache/datacache.db"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(4)
	return db, nil
}

// NewSQLiteStore creates the ledger table if needed and starts the retention
// cleanup goroutine when retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fetch_log (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			key TEXT NOT NULL,
			data_type TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			cost_saved REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			stale INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT 'ok'
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch_log table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_fetch_log_timestamp ON fetch_log(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_fetch_log_data_type ON fetch_log(data_type)",
		"CREATE INDEX IF NOT EXISTS idx_fetch_log_provider ON fetch_log(provider)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go store.cleanupLoop()
	}

	return store, nil
}

// WriteBatch inserts entries, chunked under the SQLite parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for start := 0; start < len(entries); start += maxPerBatch {
		end := start + maxPerBatch
		if end > len(entries) {
			end = len(entries)
		}
		if err := s.writeChunk(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) writeChunk(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO fetch_log
		(id, timestamp, key, data_type, endpoint, provider, cost, cost_saved, latency_ms, cache_hit, stale, outcome)
		VALUES `)

	args := make([]any, 0, len(entries)*columnsPerEntry)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.ID, e.Timestamp.UTC(), e.Key, e.DataType, e.Endpoint, e.Provider,
			e.Cost, e.CostSaved, e.LatencyMs, boolToInt(e.CacheHit), boolToInt(e.Stale), e.Outcome,
		)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert fetch_log batch: %w", err)
	}
	return nil
}

// Flush is a no-op; writes go straight to the database.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	s.cleanup()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *SQLiteStore) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC()
	res, err := s.db.Exec("DELETE FROM fetch_log WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("fetch_log cleanup failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("fetch_log cleanup removed old records", "count", n)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
