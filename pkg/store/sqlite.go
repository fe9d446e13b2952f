// Package store keeps batch fit tables in a SQLite file, so light curves
// from different runs can be compared later.
package store

import (
	"database/sql"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/abworrall/prfphot/pkg/phot"
)

var ErrNoSuchRun = errors.New("no such run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT,
	created INTEGER,
	names TEXT
);
CREATE TABLE IF NOT EXISTS cadences (
	run_id INTEGER,
	cadence INTEGER,
	converged INTEGER,
	status TEXT,
	objective REAL,
	evals INTEGER,
	chisq REAL,
	reduced_chisq REAL,
	npix INTEGER,
	max_residual REAL,
	PRIMARY KEY (run_id, cadence)
);
CREATE TABLE IF NOT EXISTS params (
	run_id INTEGER,
	cadence INTEGER,
	idx INTEGER,
	value REAL,
	sigma REAL,
	PRIMARY KEY (run_id, cadence, idx)
);`

// A Run is one stored batch fit.
type Run struct {
	ID      int64
	Label   string
	Created time.Time
	Names   []string
	Len     int
}

type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "init schema in %s", path)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		logrus.Warnf("sqlite %s: failed to set PRAGMA: %v", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// SQLite stores NaN as NULL; these map between the two.
func nullable(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// SaveTable writes the whole table in one transaction, and returns the
// new run's ID.
func (s *SQLite) SaveTable(label string, t phot.Table) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}

	runID, err := saveTable(tx, label, t)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}

	logrus.Debugf("store: saved run %d (%q), %d cadences", runID, label, t.Len())
	return runID, nil
}

func saveTable(tx *sql.Tx, label string, t phot.Table) (int64, error) {
	res, err := tx.Exec("INSERT INTO runs (label, created, names) VALUES (?, ?, ?)",
		label, time.Now().Unix(), strings.Join(t.Names, ","))
	if err != nil {
		return 0, errors.Wrap(err, "insert run")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "run id")
	}

	cStmt, err := tx.Prepare(`INSERT INTO cadences
		(run_id, cadence, converged, status, objective, evals, chisq, reduced_chisq, npix, max_residual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare cadences")
	}
	defer cStmt.Close()

	pStmt, err := tx.Prepare("INSERT INTO params (run_id, cadence, idx, value, sigma) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, errors.Wrap(err, "prepare params")
	}
	defer pStmt.Close()

	for _, r := range t.Rows {
		d := r.Diagnostics
		if _, err := cStmt.Exec(runID, r.Cadence, r.Converged, r.Status, nullable(r.Objective), r.FuncEvaluations,
			nullable(d.ChiSq), nullable(d.ReducedChiSq), d.NumPixels, nullable(d.MaxResidual)); err != nil {
			return 0, errors.Wrapf(err, "insert cadence %d", r.Cadence)
		}

		for i, v := range r.Params {
			sigma := math.NaN()
			if i < len(r.Sigmas) {
				sigma = r.Sigmas[i]
			}
			if _, err := pStmt.Exec(runID, r.Cadence, i, nullable(v), nullable(sigma)); err != nil {
				return 0, errors.Wrapf(err, "insert cadence %d param %d", r.Cadence, i)
			}
		}
	}

	return runID, nil
}

func (s *SQLite) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT r.id, r.label, r.created, r.names, COUNT(c.cadence)
		FROM runs r LEFT JOIN cadences c ON c.run_id = r.id
		GROUP BY r.id ORDER BY r.id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var created int64
		var names string
		if err := rows.Scan(&run.ID, &run.Label, &created, &names, &run.Len); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		run.Created = time.Unix(created, 0)
		run.Names = splitNames(names)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// LoadTable reads a run back. The residual histograms are not stored, so
// come back empty.
func (s *SQLite) LoadTable(runID int64) (phot.Table, error) {
	var names string
	err := s.db.QueryRow("SELECT names FROM runs WHERE id = ?", runID).Scan(&names)
	if err == sql.ErrNoRows {
		return phot.Table{}, errors.Wrapf(ErrNoSuchRun, "run %d", runID)
	} else if err != nil {
		return phot.Table{}, errors.Wrapf(err, "load run %d", runID)
	}
	t := phot.NewTable(splitNames(names))

	rows, err := s.db.Query(`SELECT cadence, converged, status, objective, evals, chisq, reduced_chisq, npix, max_residual
		FROM cadences WHERE run_id = ? ORDER BY cadence ASC`, runID)
	if err != nil {
		return t, errors.Wrapf(err, "query cadences of run %d", runID)
	}
	defer rows.Close()

	byCadence := map[int]int{}
	for rows.Next() {
		r := phot.FitResult{
			Params: make([]float64, len(t.Names)),
			Sigmas: make([]float64, len(t.Names)),
		}
		var obj, chisq, reduced, maxres sql.NullFloat64
		if err := rows.Scan(&r.Cadence, &r.Converged, &r.Status, &obj, &r.FuncEvaluations,
			&chisq, &reduced, &r.Diagnostics.NumPixels, &maxres); err != nil {
			return t, errors.Wrap(err, "scan cadence")
		}
		r.Objective = orNaN(obj)
		r.Diagnostics.ChiSq = orNaN(chisq)
		r.Diagnostics.ReducedChiSq = orNaN(reduced)
		r.Diagnostics.MaxResidual = orNaN(maxres)
		for i := range r.Params {
			r.Params[i], r.Sigmas[i] = math.NaN(), math.NaN()
		}

		byCadence[r.Cadence] = t.Len()
		t.Append(r)
	}
	if err := rows.Err(); err != nil {
		return t, errors.Wrap(err, "cadences")
	}

	prows, err := s.db.Query("SELECT cadence, idx, value, sigma FROM params WHERE run_id = ?", runID)
	if err != nil {
		return t, errors.Wrapf(err, "query params of run %d", runID)
	}
	defer prows.Close()

	for prows.Next() {
		var cadence, idx int
		var value, sigma sql.NullFloat64
		if err := prows.Scan(&cadence, &idx, &value, &sigma); err != nil {
			return t, errors.Wrap(err, "scan param")
		}
		row, ok := byCadence[cadence]
		if !ok || idx < 0 || idx >= len(t.Names) {
			return t, errors.Errorf("run %d: param %d of cadence %d does not fit table", runID, idx, cadence)
		}
		t.Rows[row].Params[idx] = orNaN(value)
		t.Rows[row].Sigmas[idx] = orNaN(sigma)
	}

	return t, prows.Err()
}

// DeleteRun removes a run and all its rows.
func (s *SQLite) DeleteRun(runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	for _, q := range []string{
		"DELETE FROM params WHERE run_id = ?",
		"DELETE FROM cadences WHERE run_id = ?",
		"DELETE FROM runs WHERE id = ?",
	} {
		if _, err := tx.Exec(q, runID); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "delete run %d", runID)
		}
	}
	return tx.Commit()
}
