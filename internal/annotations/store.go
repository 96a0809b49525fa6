// Package annotations persists element edits made in the viewer, keyed by
// project and element. The viewer core never writes storage itself.
package annotations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/model"
)

// Supported drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned by Open for drivers other than sqlite and postgres.
var ErrUnknownDriver = errors.New("annotations: unknown driver")

const schema = `CREATE TABLE IF NOT EXISTS element_annotations (
	project_id TEXT NOT NULL,
	element_id TEXT NOT NULL,
	status TEXT,
	maintenance_notes TEXT,
	last_inspection TEXT,
	next_inspection TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (project_id, element_id)
)`

// Fields absent from a patch keep their stored value.
const upsert = `INSERT INTO element_annotations
	(project_id, element_id, status, maintenance_notes, last_inspection, next_inspection, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (project_id, element_id) DO UPDATE SET
	status = COALESCE(excluded.status, element_annotations.status),
	maintenance_notes = COALESCE(excluded.maintenance_notes, element_annotations.maintenance_notes),
	last_inspection = COALESCE(excluded.last_inspection, element_annotations.last_inspection),
	next_inspection = COALESCE(excluded.next_inspection, element_annotations.next_inspection),
	updated_at = excluded.updated_at`

const selectProject = `SELECT element_id, status, maintenance_notes, last_inspection, next_inspection
FROM element_annotations WHERE project_id = ? ORDER BY element_id`

// Store keeps element patches in SQLite or Postgres.
type Store struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
	now    func() time.Time
}

// Open connects to the database and ensures the schema exists.
// For sqlite the DSN is a file path; its directory is created.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
		if dsn == "" {
			dsn = "bimview.db"
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("annotations: create dirs: %w", err)
			}
		}
	case DriverPostgres:
		sqlDriver = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost/bimview?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("annotations: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("annotations: ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("annotations: create table: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		log:    logger.OrNop(log, "annotations"),
		now:    time.Now,
	}
	s.log.Info("annotation store opened", zap.String("driver", driver))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save merges patch into the stored annotations of one element.
func (s *Store) Save(ctx context.Context, projectID, elementID string, patch model.Patch) error {
	if projectID == "" || elementID == "" {
		return errors.New("annotations: project and element ids are required")
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	var status, notes sql.NullString
	if patch.Status != nil {
		status = sql.NullString{String: string(*patch.Status), Valid: true}
	}
	if patch.MaintenanceNotes != nil {
		notes = sql.NullString{String: *patch.MaintenanceNotes, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(upsert),
		projectID, elementID, status, notes,
		timeColumn(patch.LastInspection), timeColumn(patch.NextInspection),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("annotations: save %s/%s: %w", projectID, elementID, err)
	}
	s.log.Debug("annotation saved", zap.String("project", projectID), zap.String("element", elementID))
	return nil
}

// Load returns every stored patch of a project keyed by element id.
func (s *Store) Load(ctx context.Context, projectID string) (map[string]model.Patch, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectProject), projectID)
	if err != nil {
		return nil, fmt.Errorf("annotations: select: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.Patch)
	for rows.Next() {
		var (
			id                 string
			status, notes      sql.NullString
			lastInsp, nextInsp sql.NullString
		)
		if err := rows.Scan(&id, &status, &notes, &lastInsp, &nextInsp); err != nil {
			return nil, fmt.Errorf("annotations: scan: %w", err)
		}
		var p model.Patch
		if status.Valid {
			st := model.ParseStatus(status.String)
			p.Status = &st
		}
		if notes.Valid {
			n := notes.String
			p.MaintenanceNotes = &n
		}
		if p.LastInspection, err = parseTimeColumn(lastInsp); err != nil {
			return nil, fmt.Errorf("annotations: %s last_inspection: %w", id, err)
		}
		if p.NextInspection, err = parseTimeColumn(nextInsp); err != nil {
			return nil, fmt.Errorf("annotations: %s next_inspection: %w", id, err)
		}
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("annotations: rows: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func timeColumn(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimeColumn(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
