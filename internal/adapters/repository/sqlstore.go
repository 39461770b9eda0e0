package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

//go:embed schema.sql
var schemaSQL string

const markColumns = `id, institution_id, judge_id, gymnast_id, apparatus, tournament_id, shift, judge_type,
	deductions, start_value, difficulty_bonus, d_score, neutral_deduction, scoring_method, level, created_at, updated_at`

// upsertMark relies on the unique natural key. Score columns merge with
// COALESCE; the method only changes when the caller supplies one.
const upsertMark = `INSERT INTO judge_marks (` + markColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (institution_id, judge_id, gymnast_id, apparatus, tournament_id) DO UPDATE SET
	shift = CASE WHEN excluded.shift <> '' THEN excluded.shift ELSE judge_marks.shift END,
	judge_type = CASE WHEN excluded.judge_type <> '' THEN excluded.judge_type ELSE judge_marks.judge_type END,
	deductions = COALESCE(excluded.deductions, judge_marks.deductions),
	start_value = COALESCE(excluded.start_value, judge_marks.start_value),
	difficulty_bonus = COALESCE(excluded.difficulty_bonus, judge_marks.difficulty_bonus),
	d_score = COALESCE(excluded.d_score, judge_marks.d_score),
	neutral_deduction = COALESCE(excluded.neutral_deduction, judge_marks.neutral_deduction),
	scoring_method = CASE WHEN CAST(? AS TEXT) <> '' THEN CAST(? AS TEXT) ELSE judge_marks.scoring_method END,
	level = CASE WHEN excluded.level <> '' THEN excluded.level ELSE judge_marks.level END,
	updated_at = excluded.updated_at
RETURNING ` + markColumns

const deleteMark = `DELETE FROM judge_marks
WHERE institution_id = ? AND judge_id = ? AND gymnast_id = ? AND apparatus = ? AND tournament_id = ?`

// SQLStore is a Store over database/sql, backed by SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	clock   *stampClock
	opts    options
	stop    context.CancelFunc
}

// OpenSQL opens the database, applies the schema and starts the metrics
// updater.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, driver)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("repository")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, dialect: d, clock: newStampClock(o.now), opts: o}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	go s.startMetricsUpdater(ctx)
	o.logger.Info(ctx, "sql store ready", logger.String("driver", driver))
	return s, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Submit implements Store.
func (s *SQLStore) Submit(ctx context.Context, sub model.Submission) (Outcome, error) {
	if sub.InstitutionID == "" {
		return Outcome{}, ErrMissingTenant
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	if sub.IsRetraction() {
		res, err := s.db.ExecContext(ctx, s.dialect.rebind(deleteMark),
			sub.InstitutionID, sub.JudgeID, sub.GymnastID, sub.Apparatus, sub.TournamentID)
		if err != nil {
			metrics.RecordErrorByComponent("repository", "delete_failed")
			return Outcome{}, fmt.Errorf("delete mark: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Outcome{}, fmt.Errorf("delete mark: %w", err)
		}
		return Outcome{Deleted: true, Existed: n > 0}, nil
	}

	m := newMark(sub)
	now := s.clock.next()
	id := uuid.NewString()
	explicit := string(sub.ScoringMethod)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(upsertMark),
		id, m.InstitutionID, m.JudgeID, m.GymnastID, m.Apparatus, m.TournamentID, m.Shift, string(m.JudgeType),
		nullable(m.Deductions), nullable(m.StartValue), nullable(m.DifficultyBonus), nullable(m.DScore), nullable(m.NeutralDeduction),
		string(m.ScoringMethod), m.Level, now.UnixNano(), now.UnixNano(),
		explicit, explicit,
	)
	stored, err := scanMark(row)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "upsert_failed")
		return Outcome{}, fmt.Errorf("upsert mark: %w", err)
	}
	return Outcome{Mark: stored, Existed: stored.ID != id}, nil
}

// GroupMarks implements Store.
func (s *SQLStore) GroupMarks(ctx context.Context, institutionID string, key model.GroupKey) ([]model.JudgeMark, error) {
	return s.ListMarks(ctx, model.MarkFilter{
		InstitutionID: institutionID,
		TournamentID:  key.TournamentID,
		GymnastID:     key.GymnastID,
		Apparatus:     key.Apparatus,
	})
}

// ListMarks implements Store.
func (s *SQLStore) ListMarks(ctx context.Context, filter model.MarkFilter) ([]model.JudgeMark, error) {
	if filter.InstitutionID == "" {
		return nil, ErrMissingTenant
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	query := `SELECT ` + markColumns + ` FROM judge_marks WHERE institution_id = ?`
	args := []any{filter.InstitutionID}
	for _, c := range []struct{ col, val string }{
		{"tournament_id", filter.TournamentID},
		{"gymnast_id", filter.GymnastID},
		{"apparatus", filter.Apparatus},
		{"shift", filter.Shift},
	} {
		if c.val != "" {
			query += ` AND ` + c.col + ` = ?`
			args = append(args, c.val)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "query_failed")
		return nil, fmt.Errorf("list marks: %w", err)
	}
	defer rows.Close()

	out := make([]model.JudgeMark, 0)
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Judges implements Store.
func (s *SQLStore) Judges(ctx context.Context, institutionID string) ([]model.Judge, error) {
	if institutionID == "" {
		return nil, ErrMissingTenant
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, assignments FROM judges WHERE institution_id = ? ORDER BY id`), institutionID)
	if err != nil {
		return nil, fmt.Errorf("list judges: %w", err)
	}
	defer rows.Close()

	out := make([]model.Judge, 0)
	for rows.Next() {
		var (
			j   = model.Judge{InstitutionID: institutionID}
			raw string
		)
		if err := rows.Scan(&j.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan judge: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &j.Assignments); err != nil {
			return nil, fmt.Errorf("decode assignments of %s: %w", j.ID, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// PutJudge implements Store.
func (s *SQLStore) PutJudge(ctx context.Context, judge model.Judge) error {
	if judge.InstitutionID == "" {
		return ErrMissingTenant
	}
	assignments := judge.Assignments
	if assignments == nil {
		assignments = []model.ApparatusAssignment{}
	}
	raw, err := json.Marshal(assignments)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO judges (institution_id, id, assignments) VALUES (?, ?, ?)
ON CONFLICT (institution_id, id) DO UPDATE SET assignments = excluded.assignments`),
		judge.InstitutionID, judge.ID, string(raw))
	if err != nil {
		return fmt.Errorf("put judge: %w", err)
	}
	return nil
}

// LevelOverrides implements Store.
func (s *SQLStore) LevelOverrides(ctx context.Context, institutionID string) ([]levels.Config, error) {
	if institutionID == "" {
		return nil, ErrMissingTenant
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT level, scoring_method, base_start_value FROM level_configs WHERE institution_id = ? ORDER BY level`), institutionID)
	if err != nil {
		return nil, fmt.Errorf("list level overrides: %w", err)
	}
	defer rows.Close()

	out := make([]levels.Config, 0)
	for rows.Next() {
		var (
			c      levels.Config
			method string
			base   sql.NullFloat64
		)
		if err := rows.Scan(&c.Level, &method, &base); err != nil {
			return nil, fmt.Errorf("scan level override: %w", err)
		}
		c.Method = scoring.Method(method)
		c.BaseStartValue = fromNull(base)
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutLevelOverride implements Store.
func (s *SQLStore) PutLevelOverride(ctx context.Context, institutionID string, cfg levels.Config) error {
	if institutionID == "" {
		return ErrMissingTenant
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO level_configs (institution_id, level, scoring_method, base_start_value)
VALUES (?, ?, ?, ?)
ON CONFLICT (institution_id, level) DO UPDATE SET
	scoring_method = excluded.scoring_method,
	base_start_value = excluded.base_start_value`),
		institutionID, cfg.Level, string(cfg.Method), nullable(cfg.BaseStartValue))
	if err != nil {
		return fmt.Errorf("put level override: %w", err)
	}
	return nil
}

// Count implements Store. Errors are logged and reported as zero.
func (s *SQLStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM judge_marks`).Scan(&n); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.opts.logger.Warn(ctx, "count marks failed", logger.Error(err))
		}
		return 0
	}
	return n
}

// Close stops the metrics updater and closes the database.
func (s *SQLStore) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.db.Close()
}

func (s *SQLStore) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(s.opts.metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateRepositoryRecordsTotal(s.Count(ctx))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMark(r rowScanner) (model.JudgeMark, error) {
	var (
		m                                          model.JudgeMark
		judgeType, method                          string
		deductions, startValue, bonus, dScore, ned sql.NullFloat64
		createdAt, updatedAt                       int64
	)
	err := r.Scan(&m.ID, &m.InstitutionID, &m.JudgeID, &m.GymnastID, &m.Apparatus, &m.TournamentID, &m.Shift, &judgeType,
		&deductions, &startValue, &bonus, &dScore, &ned, &method, &m.Level, &createdAt, &updatedAt)
	if err != nil {
		return model.JudgeMark{}, err
	}
	m.JudgeType = model.JudgeType(judgeType)
	m.ScoringMethod = scoring.Method(method)
	m.Deductions = fromNull(deductions)
	m.StartValue = fromNull(startValue)
	m.DifficultyBonus = fromNull(bonus)
	m.DScore = fromNull(dScore)
	m.NeutralDeduction = fromNull(ned)
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return m, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
