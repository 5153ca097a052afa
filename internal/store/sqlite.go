package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coaching-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parameters (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	definition   TEXT NOT NULL,
	high_meaning TEXT,
	low_meaning  TEXT,
	calibration  TEXT
);

CREATE TABLE IF NOT EXISTS targets (
	id              TEXT PRIMARY KEY,
	parameter_id    TEXT NOT NULL REFERENCES parameters(id),
	scope           TEXT NOT NULL,
	scope_key       TEXT NOT NULL DEFAULT '',
	value           REAL NOT NULL,
	confidence      REAL NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	effective_from  DATETIME NOT NULL,
	effective_until DATETIME
);

CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	segment_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS calls (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	transcript      TEXT NOT NULL,
	started_at      DATETIME NOT NULL,
	resolved        INTEGER,
	sentiment_delta REAL,
	escalated       INTEGER,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS observations (
	id           TEXT PRIMARY KEY,
	call_id      TEXT NOT NULL REFERENCES calls(id),
	subject_id   TEXT NOT NULL,
	parameter_id TEXT NOT NULL,
	value        REAL NOT NULL,
	confidence   REAL NOT NULL,
	evidence     TEXT,
	source       TEXT NOT NULL,
	observed_at  DATETIME NOT NULL,
	UNIQUE(call_id, parameter_id)
);

CREATE TABLE IF NOT EXISTS profiles (
	subject_id         TEXT PRIMARY KEY,
	param_values       TEXT NOT NULL,
	confidence         REAL NOT NULL,
	observations_used  INTEGER NOT NULL,
	half_life_days     REAL NOT NULL,
	last_aggregated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_scores (
	id             TEXT PRIMARY KEY,
	call_id        TEXT NOT NULL UNIQUE REFERENCES calls(id),
	subject_id     TEXT NOT NULL,
	overall        REAL NOT NULL,
	behavior_score REAL NOT NULL,
	outcome_score  REAL,
	diffs          TEXT NOT NULL,
	signals        TEXT NOT NULL,
	scored_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prompts (
	id          TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	snapshot    TEXT NOT NULL,
	composed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_entries (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	content    TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT 'fact',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS traits (
	subject_id TEXT NOT NULL,
	trait      TEXT NOT NULL,
	score      REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (subject_id, trait)
);

CREATE INDEX IF NOT EXISTS idx_targets_lookup ON targets(parameter_id, scope, scope_key, effective_until);
CREATE INDEX IF NOT EXISTS idx_calls_subject ON calls(subject_id, started_at);
CREATE INDEX IF NOT EXISTS idx_observations_call ON observations(call_id);
CREATE INDEX IF NOT EXISTS idx_observations_subject ON observations(subject_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_rewards_subject ON reward_scores(subject_id, scored_at);
CREATE INDEX IF NOT EXISTS idx_prompts_subject ON prompts(subject_id, status);
CREATE INDEX IF NOT EXISTS idx_memory_subject ON memory_entries(subject_id, status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Parameters

func (s *SQLiteStore) UpsertParameter(ctx context.Context, p model.BehaviorParameter) error {
	calJSON, err := json.Marshal(p.Calibration)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal calibration")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parameters (id, name, definition, high_meaning, low_meaning, calibration)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, definition = excluded.definition,
		   high_meaning = excluded.high_meaning, low_meaning = excluded.low_meaning,
		   calibration = excluded.calibration`,
		p.ID, p.Name, p.Definition, p.HighMeaning, p.LowMeaning, string(calJSON),
	)
	return eris.Wrapf(err, "sqlite: upsert parameter %s", p.ID)
}

func (s *SQLiteStore) GetParameter(ctx context.Context, id string) (*model.BehaviorParameter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, high_meaning, low_meaning, calibration FROM parameters WHERE id = ?`, id)
	p, err := scanParameter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListParameters(ctx context.Context) ([]model.BehaviorParameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, definition, high_meaning, low_meaning, calibration FROM parameters ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list parameters")
	}
	defer rows.Close()

	var params []model.BehaviorParameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, *p)
	}
	return params, eris.Wrap(rows.Err(), "sqlite: list parameters iterate")
}

func scanParameter(row scannable) (*model.BehaviorParameter, error) {
	var p model.BehaviorParameter
	var high, low, cal sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Definition, &high, &low, &cal); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan parameter")
	}
	p.HighMeaning = high.String
	p.LowMeaning = low.String
	if cal.Valid && cal.String != "" && cal.String != "null" {
		if err := json.Unmarshal([]byte(cal.String), &p.Calibration); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal calibration")
		}
	}
	return &p, nil
}

// Targets

func (s *SQLiteStore) CreateTarget(ctx context.Context, t model.BehaviorTarget) (*model.BehaviorTarget, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EffectiveFrom.IsZero() {
		t.EffectiveFrom = time.Now().UTC()
	}
	t.Value = model.Clamp01(t.Value)
	t.Confidence = model.Clamp01(t.Confidence)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin target tx")
	}
	defer tx.Rollback()

	// Close the currently active target for the same key, if any.
	if _, err := tx.ExecContext(ctx,
		`UPDATE targets SET effective_until = ?
		 WHERE parameter_id = ? AND scope = ? AND scope_key = ? AND effective_until IS NULL`,
		t.EffectiveFrom, t.ParameterID, string(t.Scope), t.ScopeKey,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: supersede target")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO targets (id, parameter_id, scope, scope_key, value, confidence, source, effective_from, effective_until)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.ParameterID, string(t.Scope), t.ScopeKey, t.Value, t.Confidence, t.Source, t.EffectiveFrom,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert target %s/%s", t.ParameterID, t.Scope)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit target tx")
	}
	return &t, nil
}

func (s *SQLiteStore) ListActiveTargets(ctx context.Context, scope model.TargetScope, scopeKey string) ([]model.BehaviorTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter_id, scope, scope_key, value, confidence, source, effective_from, effective_until
		 FROM targets
		 WHERE scope = ? AND scope_key = ? AND effective_until IS NULL
		 ORDER BY parameter_id`,
		string(scope), scopeKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list active targets %s/%s", scope, scopeKey)
	}
	defer rows.Close()

	var targets []model.BehaviorTarget
	for rows.Next() {
		var t model.BehaviorTarget
		var until sql.NullTime
		if err := rows.Scan(&t.ID, &t.ParameterID, &t.Scope, &t.ScopeKey, &t.Value, &t.Confidence, &t.Source, &t.EffectiveFrom, &until); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		if until.Valid {
			t.EffectiveUntil = &until.Time
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: list targets iterate")
}

// Subjects and calls

func (s *SQLiteStore) UpsertSubject(ctx context.Context, sub model.Subject) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (id, name, segment_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, segment_id = excluded.segment_id`,
		sub.ID, sub.Name, sub.SegmentID, sub.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert subject %s", sub.ID)
}

func (s *SQLiteStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, segment_id, created_at FROM subjects WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.Name, &sub.SegmentID, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get subject")
	}
	return &sub, nil
}

func (s *SQLiteStore) CreateCall(ctx context.Context, c model.Call) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, subject_id, transcript, started_at, resolved, sentiment_delta, escalated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SubjectID, c.Transcript, c.StartedAt, boolPtrToInt(c.Resolved), c.SentimentDelta, boolPtrToInt(c.Escalated), c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert call %s", c.ID)
}

func (s *SQLiteStore) ImportCalls(ctx context.Context, calls []model.Call) (int, error) {
	n := 0
	for _, c := range calls {
		if err := s.CreateCall(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, transcript, started_at, resolved, sentiment_delta, escalated, created_at
		 FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListUnscoredCalls(ctx context.Context, limit int) ([]model.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.subject_id, c.transcript, c.started_at, c.resolved, c.sentiment_delta, c.escalated, c.created_at
		 FROM calls c
		 LEFT JOIN reward_scores r ON r.call_id = c.id
		 WHERE r.id IS NULL
		 ORDER BY c.started_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unscored calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, eris.Wrap(rows.Err(), "sqlite: list unscored calls iterate")
}

func scanCall(row scannable) (*model.Call, error) {
	var c model.Call
	var resolved, escalated sql.NullInt64
	var sentiment sql.NullFloat64
	err := row.Scan(&c.ID, &c.SubjectID, &c.Transcript, &c.StartedAt, &resolved, &sentiment, &escalated, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan call")
	}
	c.Resolved = intToBoolPtr(resolved)
	c.Escalated = intToBoolPtr(escalated)
	if sentiment.Valid {
		v := sentiment.Float64
		c.SentimentDelta = &v
	}
	return &c, nil
}

// Observations

func (s *SQLiteStore) CreateObservation(ctx context.Context, o model.Observation) (*model.Observation, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now().UTC()
	}
	o.Value = model.Clamp01(o.Value)
	o.Confidence = model.Clamp01(o.Confidence)

	evJSON, err := json.Marshal(o.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal evidence")
	}

	// Re-running measurement must not duplicate observations for a
	// (call, parameter) pair; the unique index plus DO NOTHING makes the
	// insert idempotent. A skipped insert returns nil.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id, parameter_id) DO NOTHING`,
		o.ID, o.CallID, o.SubjectID, o.ParameterID, o.Value, o.Confidence, string(evJSON), string(o.Source), o.ObservedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert observation %s/%s", o.CallID, o.ParameterID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return &o, nil
}

func (s *SQLiteStore) ListObservationsByCall(ctx context.Context, callID string) ([]model.Observation, error) {
	return s.listObservations(ctx, `call_id = ?`, callID)
}

func (s *SQLiteStore) ListObservationsBySubject(ctx context.Context, subjectID string) ([]model.Observation, error) {
	return s.listObservations(ctx, `subject_id = ?`, subjectID)
}

func (s *SQLiteStore) listObservations(ctx context.Context, where string, arg any) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at
		 FROM observations WHERE `+where+` ORDER BY observed_at ASC`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations")
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var o model.Observation
		var evJSON sql.NullString
		if err := rows.Scan(&o.ID, &o.CallID, &o.SubjectID, &o.ParameterID, &o.Value, &o.Confidence, &evJSON, &o.Source, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if evJSON.Valid && evJSON.String != "" && evJSON.String != "null" {
			if err := json.Unmarshal([]byte(evJSON.String), &o.Evidence); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
			}
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

// Profiles

func (s *SQLiteStore) GetProfile(ctx context.Context, subjectID string) (*model.AggregatedProfile, error) {
	var p model.AggregatedProfile
	var valuesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, param_values, confidence, observations_used, half_life_days, last_aggregated_at
		 FROM profiles WHERE subject_id = ?`, subjectID,
	).Scan(&p.SubjectID, &valuesJSON, &p.Confidence, &p.ObservationsUsed, &p.HalfLifeDays, &p.LastAggregatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profile")
	}
	if err := json.Unmarshal([]byte(valuesJSON), &p.Values); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile values")
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.AggregatedProfile) error {
	valuesJSON, err := json.Marshal(p.Values)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile values")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (subject_id, param_values, confidence, observations_used, half_life_days, last_aggregated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   param_values = excluded.param_values, confidence = excluded.confidence,
		   observations_used = excluded.observations_used, half_life_days = excluded.half_life_days,
		   last_aggregated_at = excluded.last_aggregated_at`,
		p.SubjectID, string(valuesJSON), p.Confidence, p.ObservationsUsed, p.HalfLifeDays, p.LastAggregatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert profile %s", p.SubjectID)
}

// Reward scores

func (s *SQLiteStore) ReplaceRewardScore(ctx context.Context, r model.RewardScore) (*model.RewardScore, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ScoredAt.IsZero() {
		r.ScoredAt = time.Now().UTC()
	}

	diffsJSON, err := json.Marshal(r.Diffs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal diffs")
	}
	signalsJSON, err := json.Marshal(r.Signals)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal signals")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin reward tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reward_scores WHERE call_id = ?`, r.CallID); err != nil {
		return nil, eris.Wrap(err, "sqlite: delete stale reward")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reward_scores (id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CallID, r.SubjectID, r.Overall, r.BehaviorScore, r.OutcomeScore, string(diffsJSON), string(signalsJSON), r.ScoredAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert reward %s", r.CallID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit reward tx")
	}
	return &r, nil
}

func (s *SQLiteStore) GetRewardByCall(ctx context.Context, callID string) (*model.RewardScore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at
		 FROM reward_scores WHERE call_id = ?`, callID)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListRecentRewards(ctx context.Context, subjectID string, limit int) ([]model.RewardScore, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at
		 FROM reward_scores WHERE subject_id = ?
		 ORDER BY scored_at DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent rewards")
	}
	defer rows.Close()

	var rewards []model.RewardScore
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *r)
	}
	return rewards, eris.Wrap(rows.Err(), "sqlite: list rewards iterate")
}

func scanReward(row scannable) (*model.RewardScore, error) {
	var r model.RewardScore
	var outcome sql.NullFloat64
	var diffsJSON, signalsJSON string
	err := row.Scan(&r.ID, &r.CallID, &r.SubjectID, &r.Overall, &r.BehaviorScore, &outcome, &diffsJSON, &signalsJSON, &r.ScoredAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan reward")
	}
	if outcome.Valid {
		v := outcome.Float64
		r.OutcomeScore = &v
	}
	if err := json.Unmarshal([]byte(diffsJSON), &r.Diffs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal diffs")
	}
	if err := json.Unmarshal([]byte(signalsJSON), &r.Signals); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal signals")
	}
	return &r, nil
}

// Prompts

func (s *SQLiteStore) GetActivePrompt(ctx context.Context, subjectID string) (*model.ComposedPrompt, error) {
	var p model.ComposedPrompt
	var snapJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, body, status, snapshot, composed_at FROM prompts
		 WHERE subject_id = ? AND status = 'active'
		 ORDER BY composed_at DESC LIMIT 1`, subjectID,
	).Scan(&p.ID, &p.SubjectID, &p.Text, &p.Status, &snapJSON, &p.ComposedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active prompt")
	}
	if err := json.Unmarshal([]byte(snapJSON), &p.Snapshot); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal prompt snapshot")
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePrompt(ctx context.Context, p model.ComposedPrompt) (*model.ComposedPrompt, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ComposedAt.IsZero() {
		p.ComposedAt = time.Now().UTC()
	}
	p.Status = model.PromptActive

	snapJSON, err := json.Marshal(p.Snapshot)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal prompt snapshot")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin prompt tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompts SET status = 'superseded' WHERE subject_id = ? AND status = 'active'`,
		p.SubjectID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: supersede prompt")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO prompts (id, subject_id, body, status, snapshot, composed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SubjectID, p.Text, string(p.Status), string(snapJSON), p.ComposedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert prompt for %s", p.SubjectID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit prompt tx")
	}
	return &p, nil
}

// Memory and traits

func (s *SQLiteStore) CreateMemoryEntry(ctx context.Context, e model.MemoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = model.MemoryActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, subject_id, content, kind, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubjectID, e.Content, e.Kind, string(e.Status), e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert memory for %s", e.SubjectID)
}

func (s *SQLiteStore) ListMemoryEntries(ctx context.Context, subjectID string, limit int) ([]model.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, content, kind, status, created_at FROM memory_entries
		 WHERE subject_id = ? AND status = 'active'
		 ORDER BY created_at DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list memory")
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		var e model.MemoryEntry
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Content, &e.Kind, &e.Status, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan memory")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list memory iterate")
}

func (s *SQLiteStore) UpsertTrait(ctx context.Context, t model.TraitScore) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traits (subject_id, trait, score, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id, trait) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		t.SubjectID, t.Trait, model.Clamp01(t.Score), t.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert trait %s/%s", t.SubjectID, t.Trait)
}

func (s *SQLiteStore) ListTraits(ctx context.Context, subjectID string) ([]model.TraitScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, trait, score, updated_at FROM traits WHERE subject_id = ? ORDER BY trait`, subjectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list traits")
	}
	defer rows.Close()

	var traits []model.TraitScore
	for rows.Next() {
		var t model.TraitScore
		if err := rows.Scan(&t.SubjectID, &t.Trait, &t.Score, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trait")
		}
		traits = append(traits, t)
	}
	return traits, eris.Wrap(rows.Err(), "sqlite: list traits iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func intToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}
