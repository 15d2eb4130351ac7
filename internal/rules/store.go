// Package rules persists the mapping from process name to desired affinity
// mask in a small SQLite database. The watcher only ever reads; the editor
// surfaces (TUI, -set/-delete flags) own the write path.
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"simpin/internal/affinity"
)

// DefaultProcessName is the simulator worker this tool was built around. An
// empty store is seeded with a rule for it covering all online CPUs.
const DefaultProcessName = "iRacingSim64DX11.exe"

// process_id is TEXT for historical reasons; it holds the integer id of the
// processes row and reads normalize it back.
const schema = `
CREATE TABLE IF NOT EXISTS processes (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cpus (
	id INTEGER PRIMARY KEY CHECK (id >= 0)
);
CREATE TABLE IF NOT EXISTS processes_selected_cpus (
	process_id TEXT    NOT NULL,
	cpu_id     INTEGER NOT NULL,
	PRIMARY KEY (process_id, cpu_id)
);
`

// Rule pairs a stored process name with its desired mask.
type Rule struct {
	ID   int64
	Name string
	Mask affinity.Mask
}

// RuleLoader is the read path the watcher depends on.
type RuleLoader interface {
	LoadRules(ctx context.Context) (map[string]affinity.Mask, error)
}

// Store is a SQLite-backed rule store. Safe for periodic re-reads while an
// editor writes concurrently; every load sees a consistent snapshot.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

var _ RuleLoader = (*Store)(nil)

// Open opens (creating if needed) the rule database at path. Parent
// directories are created. WAL keeps the watcher's reads from blocking
// editor writes.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	return &Store{
		db:  db,
		log: logrus.WithField("component", "rules"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables when missing. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const loadQuery = `
SELECT p.id, p.name, c.id
FROM processes p
LEFT JOIN processes_selected_cpus sel ON CAST(sel.process_id AS INTEGER) = p.id
LEFT JOIN cpus c ON c.id = sel.cpu_id
ORDER BY p.id, c.id
`

// LoadRules returns the current name → mask mapping, read fresh from the
// database. Rules resolving to an empty mask are misconfigured: they are
// logged and left out rather than failing the load. Rules sharing a name
// have their masks merged, since the name is the matching key.
func (s *Store) LoadRules(ctx context.Context) (map[string]affinity.Mask, error) {
	list, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]affinity.Mask, len(list))
	for _, rule := range list {
		if existing, ok := out[rule.Name]; ok {
			merged, err := affinity.NewMask(append(existing.CPUs(), rule.Mask.CPUs()...))
			if err != nil {
				return nil, err
			}
			out[rule.Name] = merged
			continue
		}
		out[rule.Name] = rule.Mask
	}
	return out, nil
}

// ListRules returns all well-formed rules ordered by id. Empty-mask rules
// are skipped with a warning.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, loadQuery)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var (
		list    []Rule
		current *Rule
		cpus    []int
	)
	flush := func() {
		if current == nil {
			return
		}
		mask, err := affinity.NewMask(cpus)
		if err != nil {
			// Zero selected CPUs; apply would be meaningless.
			s.log.WithFields(logrus.Fields{
				"rule": current.Name,
				"id":   current.ID,
			}).Warn("skipping rule with empty CPU selection")
			return
		}
		current.Mask = mask
		list = append(list, *current)
	}

	for rows.Next() {
		var (
			id    int64
			name  string
			cpuID sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &cpuID); err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		if current == nil || current.ID != id {
			flush()
			current = &Rule{ID: id, Name: name}
			cpus = cpus[:0]
		}
		if cpuID.Valid {
			cpus = append(cpus, int(cpuID.Int64))
		}
	}
	flush()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return list, nil
}

// SaveRule stores mask as the desired affinity for name, replacing any
// previous selection. The whole write is one transaction, so a concurrent
// watcher load sees either the old or the new selection, never a partial
// one.
func (s *Store) SaveRule(ctx context.Context, name string, mask affinity.Mask) error {
	if name == "" {
		return fmt.Errorf("save rule: process name is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", name, err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM processes WHERE name = ?`, name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `INSERT INTO processes (name) VALUES (?)`, name)
		if err != nil {
			return fmt.Errorf("save rule %s: %w", name, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("save rule %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("save rule %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processes_selected_cpus WHERE CAST(process_id AS INTEGER) = ?`, id); err != nil {
		return fmt.Errorf("save rule %s: %w", name, err)
	}

	for _, cpu := range mask.CPUs() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cpus (id) VALUES (?)`, cpu); err != nil {
			return fmt.Errorf("save rule %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO processes_selected_cpus (process_id, cpu_id) VALUES (?, ?)`,
			strconv.FormatInt(id, 10), cpu); err != nil {
			return fmt.Errorf("save rule %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save rule %s: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"rule": name, "cpus": mask.String()}).Info("saved rule")
	return nil
}

// DeleteRule removes every rule stored under name together with its CPU
// selections.
func (s *Store) DeleteRule(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processes_selected_cpus
		WHERE CAST(process_id AS INTEGER) IN (SELECT id FROM processes WHERE name = ?)`,
		name); err != nil {
		return fmt.Errorf("delete rule %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete rule %s: %w", name, err)
	}
	return tx.Commit()
}

// SeedDefault inserts the default simulator rule spanning cpus when the
// store holds no rules at all. Returns true when seeding happened.
func (s *Store) SeedDefault(ctx context.Context, cpus []int) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processes`).Scan(&count); err != nil {
		return false, fmt.Errorf("seed default rule: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	mask, err := affinity.NewMask(cpus)
	if err != nil {
		return false, fmt.Errorf("seed default rule: %w", err)
	}
	if err := s.SaveRule(ctx, DefaultProcessName, mask); err != nil {
		return false, err
	}
	return true, nil
}
