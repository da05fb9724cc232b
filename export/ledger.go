package export

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrTaskNotFound = errors.New("task not found")

// TaskStatus is the ledger row of a task.
type TaskStatus struct {
	ID          string
	Description string
	Year        int
	State       string
	Output      string
	Error       string
	Submitted   time.Time
	Updated     time.Time
}

// Ledger records the state of every submitted task in sqlite.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at path and runs
// pending migrations.
func OpenLedger(path string, logger *zap.SugaredLogger) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err = migrateUp(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func migrateUp(db *sql.DB, logger *zap.SugaredLogger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db
	m.Log = &migrateLogger{logger: logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Insert records a new task.
func (l *Ledger) Insert(ctx context.Context, st *TaskStatus) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tasks (id, description, year, state, output, error, submitted, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Description, st.Year, st.State, st.Output, st.Error, formatTime(st.Submitted), formatTime(st.Updated))
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", st.ID, err)
	}
	return nil
}

// SetState moves a task to state.
func (l *Ledger) SetState(ctx context.Context, id, state, output, errMsg string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, output = ?, error = ?, updated = ? WHERE id = ?`,
		state, output, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// Get returns the status of a task.
func (l *Ledger) Get(ctx context.Context, id string) (*TaskStatus, error) {
	st := &TaskStatus{}
	var submitted, updated string
	err := l.db.QueryRowContext(ctx,
		`SELECT id, description, year, state, output, error, submitted, updated FROM tasks WHERE id = ?`, id).
		Scan(&st.ID, &st.Description, &st.Year, &st.State, &st.Output, &st.Error, &submitted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if st.Submitted, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
		return nil, err
	}
	if st.Updated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, err
	}
	return st, nil
}

// CountByState returns the number of tasks per state.
func (l *Ledger) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
