package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// Archive is an append-only evaluation-history store backed by SQLite.
// Flat files remain the pipeline state of record; the archive exists so
// prior EligibilityResults and ScoreBreakdowns survive re-evaluation and
// can be diffed for delta reporting.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the archive database at dsn and runs the
// schema migration.
func OpenArchive(dsn string) (*Archive, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "archive: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "archive: exec %s", pragma)
		}
	}

	a := &Archive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

const archiveMigration = `
CREATE TABLE IF NOT EXISTS evaluations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	normalized   TEXT NOT NULL,
	verdict      TEXT NOT NULL,
	eligibility  TEXT NOT NULL,
	score        TEXT,
	tier         TEXT,
	evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_normalized ON evaluations(normalized, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_session ON evaluations(session_id);
`

func (a *Archive) migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, archiveMigration)
	return eris.Wrap(err, "archive: migrate")
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Evaluation is one archived evaluation outcome.
type Evaluation struct {
	SessionID   string                   `json:"session_id"`
	Normalized  string                   `json:"normalized"`
	Eligibility *model.EligibilityResult `json:"eligibility"`
	Score       *model.ScoreBreakdown    `json:"score,omitempty"`
	Tier        model.Tier               `json:"tier,omitempty"`
	EvaluatedAt time.Time                `json:"evaluated_at"`
}

// Append records an evaluation. Prior rows are never mutated.
func (a *Archive) Append(ctx context.Context, ev Evaluation) error {
	eligJSON, err := json.Marshal(ev.Eligibility)
	if err != nil {
		return eris.Wrap(err, "archive: marshal eligibility")
	}

	var scoreJSON sql.NullString
	if ev.Score != nil {
		data, err := json.Marshal(ev.Score)
		if err != nil {
			return eris.Wrap(err, "archive: marshal score")
		}
		scoreJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO evaluations (session_id, normalized, verdict, eligibility, score, tier, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Normalized, string(ev.Eligibility.Verdict),
		string(eligJSON), scoreJSON, string(ev.Tier), ev.EvaluatedAt.UTC(),
	)
	return eris.Wrapf(err, "archive: append evaluation for %s", ev.Normalized)
}

// Latest returns the most recent archived evaluation for a property, or nil.
func (a *Archive) Latest(ctx context.Context, normalized string) (*Evaluation, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT session_id, normalized, eligibility, score, tier, evaluated_at
		 FROM evaluations WHERE normalized = ?
		 ORDER BY evaluated_at DESC, id DESC LIMIT 1`,
		normalized,
	)
	ev, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// History returns archived evaluations for a property, newest first.
func (a *Archive) History(ctx context.Context, normalized string, limit int) ([]Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT session_id, normalized, eligibility, score, tier, evaluated_at
		 FROM evaluations WHERE normalized = ?
		 ORDER BY evaluated_at DESC, id DESC LIMIT ?`,
		normalized, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "archive: query history")
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "archive: iterate history")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvaluation(row scannable) (*Evaluation, error) {
	var ev Evaluation
	var eligJSON string
	var scoreJSON sql.NullString
	var tier string

	err := row.Scan(&ev.SessionID, &ev.Normalized, &eligJSON, &scoreJSON, &tier, &ev.EvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "archive: scan evaluation")
	}

	ev.Eligibility = &model.EligibilityResult{}
	if err := json.Unmarshal([]byte(eligJSON), ev.Eligibility); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal eligibility")
	}
	if scoreJSON.Valid {
		ev.Score = &model.ScoreBreakdown{}
		if err := json.Unmarshal([]byte(scoreJSON.String), ev.Score); err != nil {
			return nil, eris.Wrap(err, "archive: unmarshal score")
		}
	}
	ev.Tier = model.Tier(tier)
	return &ev, nil
}
