package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS probes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    probe_id    TEXT    NOT NULL UNIQUE,
    target      TEXT    NOT NULL,
    address     TEXT    NOT NULL DEFAULT '',
    success     INTEGER NOT NULL CHECK(success IN (0, 1)),
    latency_us  INTEGER NOT NULL,
    reason      TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    probed_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_probes_target ON probes(target);
CREATE INDEX IF NOT EXISTS idx_probes_target_probed ON probes(target, probed_at DESC);

CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    target      TEXT    NOT NULL,
    from_state  TEXT    NOT NULL,
    to_state    TEXT    NOT NULL CHECK(to_state IN ('up', 'down')),
    at          TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_target_at ON transitions(target, at DESC);
`

// Probe is a stored probe result.
type Probe struct {
	ID       int64         `json:"id"`
	ProbeID  string        `json:"probe_id"`
	Target   string        `json:"target"`
	Address  string        `json:"address"`
	Success  bool          `json:"success"`
	Latency  time.Duration `json:"latency_ns"`
	Reason   probe.Reason  `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	ProbedAt time.Time     `json:"probed_at"`
}

// Transition is a stored state change.
type Transition struct {
	ID     int64          `json:"id"`
	Target string         `json:"target"`
	From   registry.State `json:"from"`
	To     registry.State `json:"to"`
	At     time.Time      `json:"at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// One writer connection; also keeps ":memory:" databases on a single handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertProbe persists a probe result. A result whose ProbeID is already
// stored is ignored, so redelivered results are harmless.
func (d *DB) InsertProbe(ctx context.Context, r probe.Result) error {
	success := 0
	if r.Success {
		success = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO probes (probe_id, target, address, success, latency_us, reason, error, probed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProbeID,
		r.TargetID,
		r.Address,
		success,
		r.Latency.Microseconds(),
		string(r.Reason),
		r.Error,
		formatTime(r.At),
	)
	if err != nil {
		return fmt.Errorf("inserting probe for %q: %w", r.TargetID, err)
	}
	return nil
}

// InsertTransition persists a state change.
func (d *DB) InsertTransition(ctx context.Context, tr registry.Transition) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO transitions (target, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		tr.ID, string(tr.From), string(tr.To), formatTime(tr.At),
	)
	if err != nil {
		return fmt.Errorf("inserting transition for %q: %w", tr.ID, err)
	}
	return nil
}

// LatestProbe returns the most recent probe for the given target, or nil if none.
func (d *DB) LatestProbe(ctx context.Context, target string) (*Probe, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+probeColumns+` FROM probes WHERE target = ? ORDER BY probed_at DESC, id DESC LIMIT 1`,
		target,
	)
	p, err := scanProbe(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest probe for %q: %w", target, err)
	}
	return p, nil
}

// History returns paginated probe history for a target plus the total count.
func (d *DB) History(ctx context.Context, target string, limit, offset int) ([]Probe, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM probes WHERE target = ?`, target,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting probes for %q: %w", target, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+probeColumns+` FROM probes WHERE target = ? ORDER BY probed_at DESC, id DESC LIMIT ? OFFSET ?`,
		target, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", target, err)
	}
	defer rows.Close()

	probes, err := scanProbes(rows)
	if err != nil {
		return nil, 0, err
	}
	return probes, total, nil
}

// AllLatest returns the most recent probe for each target.
func (d *DB) AllLatest(ctx context.Context) ([]Probe, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+probeColumns+`
		FROM probes
		WHERE id IN (
			SELECT MAX(id) FROM probes GROUP BY target
		)
		ORDER BY target
	`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanProbes(rows)
}

// Transitions returns the most recent state changes for a target, newest first.
func (d *DB) Transitions(ctx context.Context, target string, limit int) ([]Transition, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, target, from_state, to_state, at FROM transitions WHERE target = ? ORDER BY at DESC, id DESC LIMIT ?`,
		target, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions for %q: %w", target, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to, at string
		if err := rows.Scan(&tr.ID, &tr.Target, &from, &to, &at); err != nil {
			return nil, fmt.Errorf("scanning transition row: %w", err)
		}
		tr.From, tr.To = registry.State(from), registry.State(to)
		if tr.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transition rows: %w", err)
	}
	return out, nil
}

// UptimePercent returns the percentage of successful probes in the last N
// probes for a target.
func (d *DB) UptimePercent(ctx context.Context, target string, last int) (float64, error) {
	var total int
	var upCount sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(success)
		FROM (
			SELECT success FROM probes WHERE target = ? ORDER BY probed_at DESC, id DESC LIMIT ?
		)
	`, target, last).Scan(&total, &upCount)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %q: %w", target, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(upCount.Int64) / float64(total) * 100, nil
}

const probeColumns = `id, probe_id, target, address, success, latency_us, reason, error, probed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProbe(row scanner) (*Probe, error) {
	var p Probe
	var success int
	var latencyUs int64
	var reason, probedAt string
	err := row.Scan(&p.ID, &p.ProbeID, &p.Target, &p.Address, &success, &latencyUs, &reason, &p.Error, &probedAt)
	if err != nil {
		return nil, err
	}
	p.Success = success == 1
	p.Latency = time.Duration(latencyUs) * time.Microsecond
	p.Reason = probe.Reason(reason)
	if p.ProbedAt, err = parseTime(probedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProbes(rows *sql.Rows) ([]Probe, error) {
	var probes []Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning probe row: %w", err)
		}
		probes = append(probes, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probe rows: %w", err)
	}
	return probes, nil
}

// Fixed-width so that string ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
