package runlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
)

const dateLayout = "2006-01-02"

// Entry is the last recorded outcome of one account on one day.
type Entry struct {
	RunID        string
	Label        string
	Day          string
	Outcome      model.Outcome
	TasksClaimed int
	Balance      string
	Detail       string
	Runs         int
	UpdatedAt    time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// Accounts finish concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	createStmt := `CREATE TABLE IF NOT EXISTS account_runs (
        label TEXT NOT NULL,
        run_date TEXT NOT NULL,
        run_id TEXT NOT NULL,
        outcome TEXT NOT NULL,
        tasks_claimed INTEGER NOT NULL DEFAULT 0,
        detail TEXT,
        runs INTEGER NOT NULL DEFAULT 1,
        updated_at INTEGER NOT NULL,
        PRIMARY KEY(label, run_date)
    )`
	if _, err := s.db.Exec(createStmt); err != nil {
		return err
	}
	return s.ensureColumns()
}

// ensureColumns upgrades databases written before a column existed.
func (s *Store) ensureColumns() error {
	columns := map[string]bool{}
	rows, err := s.db.Query(`PRAGMA table_info(account_runs)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		columns[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !columns["balance"] {
		if _, err := s.db.Exec(`ALTER TABLE account_runs ADD COLUMN balance TEXT`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record upserts the outcome of label for day. Claimed tasks accumulate over
// the day's runs; the outcome and detail reflect the latest run.
func (s *Store) Record(runID string, day time.Time, res model.AccountResult) error {
	label := normalizeLabel(res.Label)
	if label == "" {
		return fmt.Errorf("account label is required")
	}
	dateStr := day.UTC().Format(dateLayout)

	_, err := s.db.Exec(`INSERT INTO account_runs(label, run_date, run_id, outcome, tasks_claimed, balance, detail, runs, updated_at)
    VALUES(?, ?, ?, ?, ?, ?, ?, 1, ?)
    ON CONFLICT(label, run_date) DO UPDATE SET
        run_id = excluded.run_id,
        outcome = excluded.outcome,
        tasks_claimed = tasks_claimed + excluded.tasks_claimed,
        balance = COALESCE(NULLIF(excluded.balance, ''), balance),
        detail = excluded.detail,
        runs = runs + 1,
        updated_at = excluded.updated_at`,
		label, dateStr, runID, string(res.Outcome), res.TasksClaimed, res.Balance, res.Detail, time.Now().Unix())
	return err
}

func (s *Store) DailyStatus(label string, day time.Time) (Entry, bool, error) {
	var (
		e         Entry
		outcome   string
		balanceNS sql.NullString
		detailNS  sql.NullString
		updated   int64
	)
	err := s.db.QueryRow(`SELECT label, run_date, run_id, outcome, tasks_claimed, balance, detail, runs, updated_at
    FROM account_runs WHERE label = ? AND run_date = ?`, normalizeLabel(label), day.UTC().Format(dateLayout)).
		Scan(&e.Label, &e.Day, &e.RunID, &outcome, &e.TasksClaimed, &balanceNS, &detailNS, &e.Runs, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.Outcome = model.Outcome(outcome)
	e.Balance = balanceNS.String
	e.Detail = detailNS.String
	e.UpdatedAt = time.Unix(updated, 0)
	return e, true, nil
}

// DailySummary counts accounts per latest outcome for day.
func (s *Store) DailySummary(day time.Time) (map[model.Outcome]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM account_runs WHERE run_date = ? GROUP BY outcome`, day.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := make(map[model.Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		summary[model.Outcome(outcome)] = count
	}
	return summary, rows.Err()
}

func normalizeLabel(label string) string {
	return strings.TrimSpace(label)
}
