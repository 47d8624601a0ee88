// Package store keeps classification history in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taxonav/internal/results"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS classification_runs (
		id           TEXT PRIMARY KEY,
		source       TEXT DEFAULT '',
		llm_provider TEXT DEFAULT '',
		llm_model    TEXT DEFAULT '',
		products     INTEGER NOT NULL DEFAULT 0,
		failures     INTEGER NOT NULL DEFAULT 0,
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON classification_runs(started_at);

	CREATE TABLE IF NOT EXISTS classification_history (
		id             TEXT PRIMARY KEY,
		run_id         TEXT DEFAULT '',
		product        TEXT NOT NULL,
		title          TEXT DEFAULT '',
		category_path  TEXT NOT NULL,
		leaf           TEXT NOT NULL,
		best_index     INTEGER NOT NULL DEFAULT 0,
		failed         INTEGER NOT NULL DEFAULT 0,
		candidates     TEXT DEFAULT '[]',
		llm_provider   TEXT DEFAULT '',
		llm_model      TEXT DEFAULT '',
		classified_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ch_run ON classification_history(run_id);
	CREATE INDEX IF NOT EXISTS idx_ch_date ON classification_history(classified_at);
	CREATE INDEX IF NOT EXISTS idx_ch_leaf ON classification_history(leaf);
	`
	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// --- Runs ---

type Run struct {
	ID          string
	Source      string
	LLMProvider string
	LLMModel    string
	Products    int
	Failures    int
	StartedAt   time.Time
	FinishedAt  sql.NullTime
}

func InsertRun(db *sql.DB, r Run) error {
	_, err := db.Exec(
		`INSERT INTO classification_runs (id, source, llm_provider, llm_model, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.LLMProvider, r.LLMModel, r.StartedAt.UTC(),
	)
	return err
}

func FinishRun(db *sql.DB, id string, products, failures int, finishedAt time.Time) error {
	_, err := db.Exec(
		`UPDATE classification_runs SET products = ?, failures = ?, finished_at = ? WHERE id = ?`,
		products, failures, finishedAt.UTC(), id,
	)
	return err
}

func GetRecentRuns(db *sql.DB, limit int) ([]Run, error) {
	rows, err := db.Query(
		`SELECT id, source, llm_provider, llm_model, products, failures, started_at, finished_at
		 FROM classification_runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.LLMProvider, &r.LLMModel, &r.Products, &r.Failures, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Classification History ---

// Provenance names the oracle behind a batch of records.
type Provenance struct {
	LLMProvider string
	LLMModel    string
}

func InsertClassifications(db *sql.DB, records []results.Record, p Provenance) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO classification_history
		 (id, run_id, product, title, category_path, leaf, best_index, failed, candidates, llm_provider, llm_model, classified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		cands, err := json.Marshal(r.Candidates)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(
			r.ID, r.RunID, r.Product, r.Title, r.CategoryPath, r.Leaf(),
			r.BestIndex, r.Failed, string(cands),
			p.LLMProvider, p.LLMModel, r.ClassifiedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetRecentClassifications(db *sql.DB, limit int) ([]results.Record, error) {
	rows, err := db.Query(
		`SELECT id, run_id, product, title, category_path, best_index, failed, candidates, classified_at
		 FROM classification_history
		 ORDER BY classified_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []results.Record
	for rows.Next() {
		var r results.Record
		var cands string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Product, &r.Title, &r.CategoryPath, &r.BestIndex, &r.Failed, &cands, &r.ClassifiedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cands), &r.Candidates); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type ClassificationStats struct {
	Total          int
	Failures       int
	DistinctLeaves int
}

func GetClassificationStats(db *sql.DB, since time.Time) (ClassificationStats, error) {
	var s ClassificationStats
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(failed), 0),
		        COUNT(DISTINCT CASE WHEN failed = 0 THEN leaf END)
		 FROM classification_history WHERE classified_at >= ?`,
		since.UTC(),
	).Scan(&s.Total, &s.Failures, &s.DistinctLeaves)
	return s, err
}

type LeafCount struct {
	Leaf  string
	Path  string
	Count int
}

func GetTopLeaves(db *sql.DB, since time.Time, limit int) ([]LeafCount, error) {
	rows, err := db.Query(
		`SELECT leaf, MAX(category_path), COUNT(*) as cnt
		 FROM classification_history
		 WHERE failed = 0 AND classified_at >= ?
		 GROUP BY leaf
		 ORDER BY cnt DESC, leaf ASC
		 LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeafCount
	for rows.Next() {
		var c LeafCount
		if err := rows.Scan(&c.Leaf, &c.Path, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
