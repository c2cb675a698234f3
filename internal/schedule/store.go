package schedule

import (
	"context"
	"database/sql"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createSchema = `
CREATE TABLE IF NOT EXISTS schedule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT,
	date TEXT,
	start_time TEXT,
	stop_time TEXT,
	task TEXT,
	notified INTEGER DEFAULT 0,
	reminder_minutes INTEGER DEFAULT 15
)`

// columns added after the first release of the table
var lateColumns = []struct {
	name string
	ddl  string
}{
	{"notified", "ALTER TABLE schedule ADD COLUMN notified INTEGER DEFAULT 0"},
	{"reminder_minutes", "ALTER TABLE schedule ADD COLUMN reminder_minutes INTEGER DEFAULT 15"},
}

const selectColumns = `SELECT id, timestamp, date, start_time, stop_time, task, notified, reminder_minutes FROM schedule`

// Store is the SQLite-backed schedule. Every operation is a single statement.
type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *log.Logger
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, loc *time.Location, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if loc == nil {
		loc = time.Local
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection also keeps ":memory:" coherent
	db.SetMaxOpenConns(1)

	s := &Store{db: db, loc: loc, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("Schedule store ready", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(schedule)")
	if err != nil {
		return fmt.Errorf("table info: %w", err)
	}
	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan table info: %w", err)
		}
		present[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, col := range lateColumns {
		if present[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		s.logger.Info("Store migration applied", "column", col.name)
	}
	return nil
}

// Save validates and inserts ev, returning the assigned ID. ReminderMinutes is
// stored as given; zero means announce only when the event is imminent.
func (s *Store) Save(ctx context.Context, ev Event) (int64, error) {
	if err := ev.Validate(s.loc); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule (timestamp, date, start_time, stop_time, task, notified, reminder_minutes)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		time.Now().In(s.loc).Format("2006-01-02 15:04:05"),
		strings.TrimSpace(ev.Date),
		strings.TrimSpace(ev.Start),
		strings.TrimSpace(ev.Stop),
		strings.TrimSpace(ev.Task),
		ev.ReminderMinutes,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event id: %w", err)
	}
	return id, nil
}

// ListAll returns every event ordered by start. Rows whose date cannot be
// parsed sort last, in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]Event, error) {
	return s.query(ctx, selectColumns+` ORDER BY id ASC`)
}

// ListPending is ListAll restricted to events not yet announced.
func (s *Store) ListPending(ctx context.Context) ([]Event, error) {
	return s.query(ctx, selectColumns+` WHERE notified = 0 ORDER BY id ASC`)
}

func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedule SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark notified %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteByFuzzyName removes every event whose task contains substring.
func (s *Store) DeleteByFuzzyName(ctx context.Context, substring string) (bool, error) {
	pattern, err := likePattern(substring)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE task LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return false, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete events: %w", err)
	}
	return n > 0, nil
}

// UpdateTaskByFuzzyName replaces the task of every event whose task contains old.
func (s *Store) UpdateTaskByFuzzyName(ctx context.Context, old, task string) (bool, error) {
	pattern, err := likePattern(old)
	if err != nil {
		return false, err
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return false, fmt.Errorf("%w: task is empty", ErrInvalidEvent)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE schedule SET task = ? WHERE task LIKE ? ESCAPE '\'`, task, pattern)
	if err != nil {
		return false, fmt.Errorf("update events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update events: %w", err)
	}
	return n > 0, nil
}

// ResetAllNotified makes every event eligible for announcement again.
func (s *Store) ResetAllNotified(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE schedule SET notified = 0`); err != nil {
		return fmt.Errorf("reset notified: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			stamp     sql.NullString
			date      sql.NullString
			start     sql.NullString
			stop      sql.NullString
			task      sql.NullString
			notified  sql.NullInt64
			remindMin sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &stamp, &date, &start, &stop, &task, &notified, &remindMin); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Date = date.String
		ev.Start = start.String
		ev.Stop = stop.String
		ev.Task = task.String
		ev.Notified = notified.Int64 != 0
		ev.ReminderMinutes = DefaultReminderMinutes
		if remindMin.Valid {
			ev.ReminderMinutes = int(remindMin.Int64)
		}
		if stamp.Valid {
			if t, err := time.ParseInLocation("2006-01-02 15:04:05", stamp.String, s.loc); err == nil {
				ev.CreatedAt = t
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	s.sortByStart(events)
	return events, nil
}

func (s *Store) sortByStart(events []Event) {
	starts := make(map[int64]time.Time, len(events))
	for _, ev := range events {
		if t, err := ev.StartAt(s.loc); err == nil {
			starts[ev.ID] = t
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		ti, iok := starts[events[i].ID]
		tj, jok := starts[events[j].ID]
		switch {
		case iok && jok:
			return ti.Before(tj)
		case iok != jok:
			return iok
		default:
			return false
		}
	})
}

func likePattern(substring string) (string, error) {
	substring = strings.TrimSpace(substring)
	if substring == "" {
		return "", ErrEmptyPattern
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(substring) + "%", nil
}
