package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex keeps one append-only row per audit directory. Triggers refuse
// updates and deletes.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteIndex{db: db}

	if err := idx.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

func (s *SQLiteIndex) Append(ctx context.Context, dir string, rec Record) error {
	if err := validateIndexInput(dir, rec); err != nil {
		return err
	}

	return s.insertRecord(ctx, dir, rec)
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) insertRecord(ctx context.Context, dir string, rec Record) error {
	const maxRetries = 3
	var err error

	allowed := 0
	if rec.Decision.Allowed {
		allowed = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, queryInsertRecord,
			dir,
			rec.Request.MCP,
			rec.Request.RequestID,
			rec.Request.Identity,
			rec.Request.Tenant,
			rec.Request.Action,
			allowed,
			rec.Decision.Reason,
			rec.Response.Status,
			rec.Response.Bytes,
		)
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}

		return fmt.Errorf("insert index row: %w", err)
	}

	return fmt.Errorf("insert index row after %d retries: %w", maxRetries, err)
}
