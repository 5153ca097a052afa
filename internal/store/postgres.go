package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coaching-cli/internal/db"
	"github.com/sells-group/coaching-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_observation": `INSERT INTO observations (id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (call_id, parameter_id) DO NOTHING`,
	"list_observations_by_call": `SELECT id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at
		FROM observations WHERE call_id = $1 ORDER BY observed_at ASC`,
	"get_reward_by_call": `SELECT id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at
		FROM reward_scores WHERE call_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool exposes the underlying pool for helpers that need it.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

const postgresMigration = `
CREATE TABLE IF NOT EXISTS parameters (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	definition   TEXT NOT NULL,
	high_meaning TEXT,
	low_meaning  TEXT,
	calibration  JSONB
);

CREATE TABLE IF NOT EXISTS targets (
	id              TEXT PRIMARY KEY,
	parameter_id    TEXT NOT NULL REFERENCES parameters(id),
	scope           TEXT NOT NULL,
	scope_key       TEXT NOT NULL DEFAULT '',
	value           DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	effective_from  TIMESTAMPTZ NOT NULL,
	effective_until TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	segment_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS calls (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	transcript      TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	resolved        BOOLEAN,
	sentiment_delta DOUBLE PRECISION,
	escalated       BOOLEAN,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS observations (
	id           TEXT PRIMARY KEY,
	call_id      TEXT NOT NULL REFERENCES calls(id),
	subject_id   TEXT NOT NULL,
	parameter_id TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	evidence     JSONB,
	source       TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	UNIQUE(call_id, parameter_id)
);

CREATE TABLE IF NOT EXISTS profiles (
	subject_id         TEXT PRIMARY KEY,
	param_values       JSONB NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	observations_used  INTEGER NOT NULL,
	half_life_days     DOUBLE PRECISION NOT NULL,
	last_aggregated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_scores (
	id             TEXT PRIMARY KEY,
	call_id        TEXT NOT NULL UNIQUE REFERENCES calls(id),
	subject_id     TEXT NOT NULL,
	overall        DOUBLE PRECISION NOT NULL,
	behavior_score DOUBLE PRECISION NOT NULL,
	outcome_score  DOUBLE PRECISION,
	diffs          JSONB NOT NULL,
	signals        JSONB NOT NULL,
	scored_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prompts (
	id          TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	snapshot    JSONB NOT NULL,
	composed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_entries (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	content    TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT 'fact',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS traits (
	subject_id TEXT NOT NULL,
	trait      TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, trait)
);

CREATE INDEX IF NOT EXISTS idx_targets_lookup ON targets(parameter_id, scope, scope_key) WHERE effective_until IS NULL;
CREATE INDEX IF NOT EXISTS idx_calls_subject ON calls(subject_id, started_at);
CREATE INDEX IF NOT EXISTS idx_observations_subject ON observations(subject_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_rewards_subject ON reward_scores(subject_id, scored_at);
CREATE INDEX IF NOT EXISTS idx_prompts_active ON prompts(subject_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_memory_subject ON memory_entries(subject_id, created_at) WHERE status = 'active';
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Parameters

func (s *PostgresStore) UpsertParameter(ctx context.Context, p model.BehaviorParameter) error {
	calJSON, err := json.Marshal(p.Calibration)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal calibration")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO parameters (id, name, definition, high_meaning, low_meaning, calibration)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, definition = EXCLUDED.definition,
		   high_meaning = EXCLUDED.high_meaning, low_meaning = EXCLUDED.low_meaning,
		   calibration = EXCLUDED.calibration`,
		p.ID, p.Name, p.Definition, p.HighMeaning, p.LowMeaning, calJSON,
	)
	return eris.Wrapf(err, "postgres: upsert parameter %s", p.ID)
}

func (s *PostgresStore) GetParameter(ctx context.Context, id string) (*model.BehaviorParameter, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, definition, COALESCE(high_meaning, ''), COALESCE(low_meaning, ''), calibration
		 FROM parameters WHERE id = $1`, id)
	p, err := scanPgParameter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) ListParameters(ctx context.Context) ([]model.BehaviorParameter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, definition, COALESCE(high_meaning, ''), COALESCE(low_meaning, ''), calibration
		 FROM parameters ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parameters")
	}
	defer rows.Close()

	var params []model.BehaviorParameter
	for rows.Next() {
		p, err := scanPgParameter(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, *p)
	}
	return params, eris.Wrap(rows.Err(), "postgres: list parameters iterate")
}

func scanPgParameter(row pgx.Row) (*model.BehaviorParameter, error) {
	var p model.BehaviorParameter
	var cal []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Definition, &p.HighMeaning, &p.LowMeaning, &cal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan parameter")
	}
	if len(cal) > 0 && string(cal) != "null" {
		if err := json.Unmarshal(cal, &p.Calibration); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal calibration")
		}
	}
	return &p, nil
}

// Targets

func (s *PostgresStore) CreateTarget(ctx context.Context, t model.BehaviorTarget) (*model.BehaviorTarget, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EffectiveFrom.IsZero() {
		t.EffectiveFrom = time.Now().UTC()
	}
	t.Value = model.Clamp01(t.Value)
	t.Confidence = model.Clamp01(t.Confidence)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin target tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE targets SET effective_until = $1
		 WHERE parameter_id = $2 AND scope = $3 AND scope_key = $4 AND effective_until IS NULL`,
		t.EffectiveFrom, t.ParameterID, string(t.Scope), t.ScopeKey,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: supersede target")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO targets (id, parameter_id, scope, scope_key, value, confidence, source, effective_from)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.ParameterID, string(t.Scope), t.ScopeKey, t.Value, t.Confidence, t.Source, t.EffectiveFrom,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert target %s/%s", t.ParameterID, t.Scope)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit target tx")
	}
	return &t, nil
}

func (s *PostgresStore) ListActiveTargets(ctx context.Context, scope model.TargetScope, scopeKey string) ([]model.BehaviorTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, parameter_id, scope, scope_key, value, confidence, source, effective_from, effective_until
		 FROM targets
		 WHERE scope = $1 AND scope_key = $2 AND effective_until IS NULL
		 ORDER BY parameter_id`,
		string(scope), scopeKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list active targets %s/%s", scope, scopeKey)
	}
	defer rows.Close()

	var targets []model.BehaviorTarget
	for rows.Next() {
		var t model.BehaviorTarget
		if err := rows.Scan(&t.ID, &t.ParameterID, &t.Scope, &t.ScopeKey, &t.Value, &t.Confidence, &t.Source, &t.EffectiveFrom, &t.EffectiveUntil); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: list targets iterate")
}

// Subjects and calls

func (s *PostgresStore) UpsertSubject(ctx context.Context, sub model.Subject) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subjects (id, name, segment_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, segment_id = EXCLUDED.segment_id`,
		sub.ID, sub.Name, sub.SegmentID, sub.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert subject %s", sub.ID)
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var sub model.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, segment_id, created_at FROM subjects WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.Name, &sub.SegmentID, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get subject")
	}
	return &sub, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, c model.Call) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, subject_id, transcript, started_at, resolved, sentiment_delta, escalated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.SubjectID, c.Transcript, c.StartedAt, c.Resolved, c.SentimentDelta, c.Escalated, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert call %s", c.ID)
}

func (s *PostgresStore) ImportCalls(ctx context.Context, calls []model.Call) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{id, c.SubjectID, c.Transcript, c.StartedAt, c.Resolved, c.SentimentDelta, c.Escalated, createdAt})
	}
	n, err := db.CopyFrom(ctx, s.pool, "calls",
		[]string{"id", "subject_id", "transcript", "started_at", "resolved", "sentiment_delta", "escalated", "created_at"},
		rows)
	return int(n), err
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, transcript, started_at, resolved, sentiment_delta, escalated, created_at
		 FROM calls WHERE id = $1`, id)
	var c model.Call
	err := row.Scan(&c.ID, &c.SubjectID, &c.Transcript, &c.StartedAt, &c.Resolved, &c.SentimentDelta, &c.Escalated, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get call")
	}
	return &c, nil
}

func (s *PostgresStore) ListUnscoredCalls(ctx context.Context, limit int) ([]model.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.subject_id, c.transcript, c.started_at, c.resolved, c.sentiment_delta, c.escalated, c.created_at
		 FROM calls c
		 LEFT JOIN reward_scores r ON r.call_id = c.id
		 WHERE r.id IS NULL
		 ORDER BY c.started_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unscored calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		var c model.Call
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.Transcript, &c.StartedAt, &c.Resolved, &c.SentimentDelta, &c.Escalated, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call")
		}
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "postgres: list unscored calls iterate")
}

// Observations

func (s *PostgresStore) CreateObservation(ctx context.Context, o model.Observation) (*model.Observation, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal evidence")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO observations (id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id, parameter_id) DO NOTHING`,
		o.ID, o.CallID, o.SubjectID, o.ParameterID, o.Value, o.Confidence, evJSON, string(o.Source), o.ObservedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert observation %s/%s", o.CallID, o.ParameterID)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return &o, nil
}

func (s *PostgresStore) ListObservationsByCall(ctx context.Context, callID string) ([]model.Observation, error) {
	return s.listObservations(ctx, `call_id = $1`, callID)
}

func (s *PostgresStore) ListObservationsBySubject(ctx context.Context, subjectID string) ([]model.Observation, error) {
	return s.listObservations(ctx, `subject_id = $1`, subjectID)
}

func (s *PostgresStore) listObservations(ctx context.Context, where string, arg any) ([]model.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, subject_id, parameter_id, value, confidence, evidence, source, observed_at
		 FROM observations WHERE `+where+` ORDER BY observed_at ASC`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations")
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var o model.Observation
		var evJSON []byte
		if err := rows.Scan(&o.ID, &o.CallID, &o.SubjectID, &o.ParameterID, &o.Value, &o.Confidence, &evJSON, &o.Source, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if len(evJSON) > 0 && string(evJSON) != "null" {
			if err := json.Unmarshal(evJSON, &o.Evidence); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal evidence")
			}
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

// Profiles

func (s *PostgresStore) GetProfile(ctx context.Context, subjectID string) (*model.AggregatedProfile, error) {
	var p model.AggregatedProfile
	var valuesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT subject_id, param_values, confidence, observations_used, half_life_days, last_aggregated_at
		 FROM profiles WHERE subject_id = $1`, subjectID,
	).Scan(&p.SubjectID, &valuesJSON, &p.Confidence, &p.ObservationsUsed, &p.HalfLifeDays, &p.LastAggregatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profile")
	}
	if err := json.Unmarshal(valuesJSON, &p.Values); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile values")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p model.AggregatedProfile) error {
	valuesJSON, err := json.Marshal(p.Values)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile values")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (subject_id, param_values, confidence, observations_used, half_life_days, last_aggregated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   param_values = EXCLUDED.param_values, confidence = EXCLUDED.confidence,
		   observations_used = EXCLUDED.observations_used, half_life_days = EXCLUDED.half_life_days,
		   last_aggregated_at = EXCLUDED.last_aggregated_at`,
		p.SubjectID, valuesJSON, p.Confidence, p.ObservationsUsed, p.HalfLifeDays, p.LastAggregatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert profile %s", p.SubjectID)
}

// Reward scores

func (s *PostgresStore) ReplaceRewardScore(ctx context.Context, r model.RewardScore) (*model.RewardScore, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ScoredAt.IsZero() {
		r.ScoredAt = time.Now().UTC()
	}

	diffsJSON, err := json.Marshal(r.Diffs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal diffs")
	}
	signalsJSON, err := json.Marshal(r.Signals)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal signals")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin reward tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reward_scores WHERE call_id = $1`, r.CallID); err != nil {
		return nil, eris.Wrap(err, "postgres: delete stale reward")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO reward_scores (id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.CallID, r.SubjectID, r.Overall, r.BehaviorScore, r.OutcomeScore, diffsJSON, signalsJSON, r.ScoredAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert reward %s", r.CallID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit reward tx")
	}
	return &r, nil
}

func (s *PostgresStore) GetRewardByCall(ctx context.Context, callID string) (*model.RewardScore, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at
		 FROM reward_scores WHERE call_id = $1`, callID)
	r, err := scanPgReward(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListRecentRewards(ctx context.Context, subjectID string, limit int) ([]model.RewardScore, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, subject_id, overall, behavior_score, outcome_score, diffs, signals, scored_at
		 FROM reward_scores WHERE subject_id = $1
		 ORDER BY scored_at DESC LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent rewards")
	}
	defer rows.Close()

	var rewards []model.RewardScore
	for rows.Next() {
		r, err := scanPgReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *r)
	}
	return rewards, eris.Wrap(rows.Err(), "postgres: list rewards iterate")
}

func scanPgReward(row pgx.Row) (*model.RewardScore, error) {
	var r model.RewardScore
	var diffsJSON, signalsJSON []byte
	err := row.Scan(&r.ID, &r.CallID, &r.SubjectID, &r.Overall, &r.BehaviorScore, &r.OutcomeScore, &diffsJSON, &signalsJSON, &r.ScoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan reward")
	}
	if err := json.Unmarshal(diffsJSON, &r.Diffs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal diffs")
	}
	if err := json.Unmarshal(signalsJSON, &r.Signals); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal signals")
	}
	return &r, nil
}

// Prompts

func (s *PostgresStore) GetActivePrompt(ctx context.Context, subjectID string) (*model.ComposedPrompt, error) {
	var p model.ComposedPrompt
	var snapJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, body, status, snapshot, composed_at FROM prompts
		 WHERE subject_id = $1 AND status = 'active'
		 ORDER BY composed_at DESC LIMIT 1`, subjectID,
	).Scan(&p.ID, &p.SubjectID, &p.Text, &p.Status, &snapJSON, &p.ComposedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active prompt")
	}
	if err := json.Unmarshal(snapJSON, &p.Snapshot); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal prompt snapshot")
	}
	return &p, nil
}

func (s *PostgresStore) CreatePrompt(ctx context.Context, p model.ComposedPrompt) (*model.ComposedPrompt, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ComposedAt.IsZero() {
		p.ComposedAt = time.Now().UTC()
	}
	p.Status = model.PromptActive

	snapJSON, err := json.Marshal(p.Snapshot)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal prompt snapshot")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin prompt tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE prompts SET status = 'superseded' WHERE subject_id = $1 AND status = 'active'`,
		p.SubjectID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: supersede prompt")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO prompts (id, subject_id, body, status, snapshot, composed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.SubjectID, p.Text, string(p.Status), snapJSON, p.ComposedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert prompt for %s", p.SubjectID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit prompt tx")
	}
	return &p, nil
}

// Memory and traits

func (s *PostgresStore) CreateMemoryEntry(ctx context.Context, e model.MemoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = model.MemoryActive
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_entries (id, subject_id, content, kind, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SubjectID, e.Content, e.Kind, string(e.Status), e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert memory for %s", e.SubjectID)
}

func (s *PostgresStore) ListMemoryEntries(ctx context.Context, subjectID string, limit int) ([]model.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, content, kind, status, created_at FROM memory_entries
		 WHERE subject_id = $1 AND status = 'active'
		 ORDER BY created_at DESC LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list memory")
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		var e model.MemoryEntry
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Content, &e.Kind, &e.Status, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan memory")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list memory iterate")
}

func (s *PostgresStore) UpsertTrait(ctx context.Context, t model.TraitScore) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO traits (subject_id, trait, score, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id, trait) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		t.SubjectID, t.Trait, model.Clamp01(t.Score), t.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert trait %s/%s", t.SubjectID, t.Trait)
}

func (s *PostgresStore) ListTraits(ctx context.Context, subjectID string) ([]model.TraitScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subject_id, trait, score, updated_at FROM traits WHERE subject_id = $1 ORDER BY trait`, subjectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list traits")
	}
	defer rows.Close()

	var traits []model.TraitScore
	for rows.Next() {
		var t model.TraitScore
		if err := rows.Scan(&t.SubjectID, &t.Trait, &t.Score, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trait")
		}
		traits = append(traits, t)
	}
	return traits, eris.Wrap(rows.Err(), "postgres: list traits iterate")
}
