package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Compass/internal/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var assessmentColumns = []string{
	"id", "matrix_id", "tenant_id", "team_id", "employee_email", "answered_question_count",
	"status", "last_activity_date", "score", "version", "created_at",
}

var answerColumns = []string{
	"id", "employee_assessment_id", "question_id", "value", "score", "answered_at", "notes", "pending_review",
}

var questionColumns = []string{
	"id", "matrix_id", "pillar_id", "category_id", "text", "type", "points", "options", "multiple_choice",
}

// SQLiteStore implements every store interface of the engine on SQLite.
type SQLiteStore struct {
	logger lager.Logger
	db     *sql.DB
}

func NewSQLiteStore(logger lager.Logger, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{logger: logger.Session("sqlite-store"), db: db}, nil
}

// Open opens path with the driver settings the store expects. Pragmas are
// repeated in the DSN because every pooled connection needs them.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func (s *SQLiteStore) exec(ctx context.Context, runner execer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return runner.ExecContext(ctx, query, args...)
}

// Catalog

type execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func (s *SQLiteStore) PutMatrix(ctx context.Context, m *models.Matrix) error {
	return s.putMatrix(ctx, s.db, m)
}

func (s *SQLiteStore) putMatrix(ctx context.Context, runner execer, m *models.Matrix) error {
	pillars, err := encodeJSON(m.Pillars)
	if err != nil {
		return err
	}
	teams := m.TeamIDs
	if teams == nil {
		teams = []string{}
	}
	teamIDs, err := encodeJSON(teams)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, runner, psql.Insert("matrices").
		Columns("id", "tenant_id", "performance_cycle_id", "name", "pillars", "team_ids", "updated_at").
		Values(m.ID, m.TenantID, m.PerformanceCycleID, m.Name, pillars, teamIDs, formatTime(m.UpdatedAt)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id,
			performance_cycle_id = excluded.performance_cycle_id, name = excluded.name,
			pillars = excluded.pillars, team_ids = excluded.team_ids, updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("put matrix %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMatrix(ctx context.Context, id string) (*models.Matrix, error) {
	query, args, err := psql.Select("id", "tenant_id", "performance_cycle_id", "name", "pillars", "team_ids", "updated_at").
		From("matrices").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var (
		m                models.Matrix
		pillars, teamIDs string
		updatedAt        string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.TenantID, &m.PerformanceCycleID, &m.Name, &pillars, &teamIDs, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get matrix %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(pillars), &m.Pillars); err != nil {
		return nil, fmt.Errorf("decode matrix %s pillars: %w", id, err)
	}
	if err := json.Unmarshal([]byte(teamIDs), &m.TeamIDs); err != nil {
		return nil, fmt.Errorf("decode matrix %s teams: %w", id, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// PutQuestion upserts q under its (matrix, id) key. Question ids only need
// to be unique within their matrix.
func (s *SQLiteStore) PutQuestion(ctx context.Context, q *models.QuestionDefinition) error {
	return s.putQuestion(ctx, s.db, q)
}

func (s *SQLiteStore) putQuestion(ctx context.Context, runner execer, q *models.QuestionDefinition) error {
	opts := q.Options
	if opts == nil {
		opts = []models.QuestionOption{}
	}
	options, err := encodeJSON(opts)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, runner, psql.Insert("questions").
		Columns(questionColumns...).
		Values(q.ID, q.MatrixID, q.PillarID, q.CategoryID, q.Text, string(q.Type), q.Points, options, boolToInt64(q.MultipleChoice)).
		Suffix(`ON CONFLICT(matrix_id, id) DO UPDATE SET pillar_id = excluded.pillar_id,
			category_id = excluded.category_id, text = excluded.text, type = excluded.type,
			points = excluded.points, options = excluded.options, multiple_choice = excluded.multiple_choice`))
	if err != nil {
		return fmt.Errorf("put question %s/%s: %w", q.MatrixID, q.ID, err)
	}
	return nil
}

// ReplaceMatrix writes m and exactly the given questions in one transaction.
// Questions of m that are not listed are removed. Nothing is written on error.
func (s *SQLiteStore) ReplaceMatrix(ctx context.Context, m *models.Matrix, questions []*models.QuestionDefinition) error {
	logger := s.logger.Session("replace-matrix", lager.Data{"matrix": m.ID})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.putMatrix(ctx, tx, m); err != nil {
		return err
	}
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		if q.MatrixID != m.ID {
			return fmt.Errorf("question %s belongs to matrix %s, not %s", q.ID, q.MatrixID, m.ID)
		}
		if err := s.putQuestion(ctx, tx, q); err != nil {
			return err
		}
		ids = append(ids, q.ID)
	}
	res, err := s.exec(ctx, tx, psql.Delete("questions").
		Where(sq.Eq{"matrix_id": m.ID}).
		Where(sq.NotEq{"id": ids}))
	if err != nil {
		return fmt.Errorf("prune questions of %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		logger.Error("failed-to-commit", err)
		return err
	}
	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		logger.Info("pruned-questions", lager.Data{"removed": removed})
	}
	return nil
}

func scanQuestion(row rowScanner) (*models.QuestionDefinition, error) {
	var (
		q       models.QuestionDefinition
		qtype   string
		options string
		multi   int64
	)
	if err := row.Scan(&q.ID, &q.MatrixID, &q.PillarID, &q.CategoryID, &q.Text, &qtype, &q.Points, &options, &multi); err != nil {
		return nil, err
	}
	q.Type = models.QuestionType(qtype)
	q.MultipleChoice = multi != 0
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return nil, fmt.Errorf("decode question %s options: %w", q.ID, err)
	}
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, matrixID, id string) (*models.QuestionDefinition, error) {
	query, args, err := psql.Select(questionColumns...).From("questions").
		Where(sq.Eq{"matrix_id": matrixID, "id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	q, err := scanQuestion(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get question %s/%s: %w", matrixID, id, err)
	}
	return q, nil
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, matrixID string) ([]*models.QuestionDefinition, error) {
	query, args, err := psql.Select(questionColumns...).From("questions").
		Where(sq.Eq{"matrix_id": matrixID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions of %s: %w", matrixID, err)
	}
	defer rows.Close()

	var out []*models.QuestionDefinition
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Answers

func scanAnswer(row rowScanner) (*models.Answer, error) {
	var (
		a          models.Answer
		answeredAt string
		pending    int64
	)
	if err := row.Scan(&a.ID, &a.EmployeeAssessmentID, &a.QuestionID, &a.Value, &a.Score, &answeredAt, &a.Notes, &pending); err != nil {
		return nil, err
	}
	a.PendingReview = pending != 0
	t, err := parseTime(answeredAt)
	if err != nil {
		return nil, err
	}
	a.AnsweredAt = t
	return &a, nil
}

// UpsertAnswer inserts or overwrites inside one transaction. The insert is
// conditional on the (assessment, question) key, so concurrent submissions of
// the same answer resolve to exactly one new row.
func (s *SQLiteStore) UpsertAnswer(ctx context.Context, a *models.Answer) (*models.Answer, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	at := formatTime(a.AnsweredAt)
	res, err := s.exec(ctx, tx, psql.Insert("answers").
		Columns(answerColumns...).
		Values(a.ID, a.EmployeeAssessmentID, a.QuestionID, a.Value, a.Score, at, a.Notes, boolToInt64(a.PendingReview)).
		Suffix("ON CONFLICT(employee_assessment_id, question_id) DO NOTHING"))
	if err != nil {
		return nil, false, fmt.Errorf("insert answer: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	key := sq.Eq{"employee_assessment_id": a.EmployeeAssessmentID, "question_id": a.QuestionID}
	if inserted == 0 {
		_, err = s.exec(ctx, tx, psql.Update("answers").
			Set("value", a.Value).
			Set("score", a.Score).
			Set("answered_at", at).
			Set("notes", a.Notes).
			Set("pending_review", boolToInt64(a.PendingReview)).
			Where(key))
		if err != nil {
			return nil, false, fmt.Errorf("update answer: %w", err)
		}
	}

	query, args, err := psql.Select(answerColumns...).From("answers").Where(key).ToSql()
	if err != nil {
		return nil, false, err
	}
	stored, err := scanAnswer(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, false, fmt.Errorf("read back answer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return stored, inserted > 0, nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, assessmentID string) ([]*models.Answer, error) {
	query, args, err := psql.Select(answerColumns...).From("answers").
		Where(sq.Eq{"employee_assessment_id": assessmentID}).OrderBy("question_id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list answers of %s: %w", assessmentID, err)
	}
	defer rows.Close()

	var out []*models.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAnswersByAssessment(ctx context.Context, assessmentID string) (int, error) {
	res, err := s.exec(ctx, s.db, psql.Delete("answers").Where(sq.Eq{"employee_assessment_id": assessmentID}))
	if err != nil {
		return 0, fmt.Errorf("delete answers of %s: %w", assessmentID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Assessments

func scanAssessment(row rowScanner) (*models.EmployeeAssessment, error) {
	var (
		a                       models.EmployeeAssessment
		status, score           string
		lastActivity, createdAt string
	)
	if err := row.Scan(&a.ID, &a.MatrixID, &a.TenantID, &a.TeamID, &a.EmployeeEmailNormalized, &a.AnsweredQuestionCount,
		&status, &lastActivity, &score, &a.Version, &createdAt); err != nil {
		return nil, err
	}
	a.Status = models.AssessmentStatus(status)
	if err := json.Unmarshal([]byte(score), &a.Score); err != nil {
		return nil, fmt.Errorf("decode assessment %s score: %w", a.ID, err)
	}
	var err error
	if a.LastActivityDate, err = parseTime(lastActivity); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*models.EmployeeAssessment, error) {
	query, args, err := psql.Select(assessmentColumns...).From("employee_assessments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanAssessment(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) InsertAssessment(ctx context.Context, a *models.EmployeeAssessment) error {
	score, err := encodeJSON(a.Score)
	if err != nil {
		return err
	}
	if a.Version == 0 {
		a.Version = 1
	}
	_, err = s.exec(ctx, s.db, psql.Insert("employee_assessments").
		Columns(assessmentColumns...).
		Values(a.ID, a.MatrixID, a.TenantID, a.TeamID, a.EmployeeEmailNormalized, a.AnsweredQuestionCount,
			string(a.Status), formatTime(a.LastActivityDate), score, a.Version, formatTime(a.CreatedAt)))
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// UpdateAssessment is a compare-and-swap on the version column.
func (s *SQLiteStore) UpdateAssessment(ctx context.Context, a *models.EmployeeAssessment, expectedVersion int64) error {
	score, err := encodeJSON(a.Score)
	if err != nil {
		return err
	}
	next := expectedVersion + 1
	res, err := s.exec(ctx, s.db, psql.Update("employee_assessments").
		Set("team_id", a.TeamID).
		Set("answered_question_count", a.AnsweredQuestionCount).
		Set("status", string(a.Status)).
		Set("last_activity_date", formatTime(a.LastActivityDate)).
		Set("score", score).
		Set("version", next).
		Where(sq.Eq{"id": a.ID, "version": expectedVersion}))
	if err != nil {
		return fmt.Errorf("update assessment %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	a.Version = next
	return nil
}

func (s *SQLiteStore) ListAssessmentsByMatrix(ctx context.Context, matrixID string) ([]*models.EmployeeAssessment, error) {
	query, args, err := psql.Select(assessmentColumns...).From("employee_assessments").
		Where(sq.Eq{"matrix_id": matrixID}).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assessments of %s: %w", matrixID, err)
	}
	defer rows.Close()

	var out []*models.EmployeeAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAssessment(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, s.db, psql.Delete("employee_assessments").Where(sq.Eq{"id": id}))
	if err != nil {
		return false, fmt.Errorf("delete assessment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Dashboard

// PutDashboardAnalytics replaces every record in a single transaction.
func (s *SQLiteStore) PutDashboardAnalytics(ctx context.Context, records []*models.DashboardAnalytics) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		payload, err := encodeJSON(rec)
		if err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, psql.Replace("dashboard_analytics").
			Columns("pk", "sk", "matrix_id", "scope", "team_id", "payload", "calculated_at").
			Values(rec.PartitionKey, rec.SortKey, rec.MatrixID, string(rec.Scope), rec.TeamID, payload, formatTime(rec.CalculatedAt)))
		if err != nil {
			return fmt.Errorf("put dashboard %s/%s: %w", rec.PartitionKey, rec.SortKey, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetDashboardAnalytics(ctx context.Context, partitionKey, sortKey string) (*models.DashboardAnalytics, error) {
	query, args, err := psql.Select("payload").From("dashboard_analytics").
		Where(sq.Eq{"pk": partitionKey, "sk": sortKey}).ToSql()
	if err != nil {
		return nil, err
	}
	var payload string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dashboard %s/%s: %w", partitionKey, sortKey, err)
	}
	var rec models.DashboardAnalytics
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode dashboard %s/%s: %w", partitionKey, sortKey, err)
	}
	return &rec, nil
}

// Audit

// AddAudit is best effort; failures are logged and dropped.
func (s *SQLiteStore) AddAudit(entry models.AuditEntry) {
	_, err := s.exec(context.Background(), s.db, psql.Insert("audit_log").
		Columns("time", "actor", "action", "target", "note").
		Values(formatTime(entry.Time), entry.Actor, entry.Action, entry.Target, entry.Note))
	if err != nil {
		s.logger.Error("failed-to-add-audit", err, lager.Data{"action": entry.Action})
	}
}

// ListAudit returns the most recent entries first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit uint64) ([]models.AuditEntry, error) {
	query, args, err := psql.Select("time", "actor", "action", "target", "note").From("audit_log").
		OrderBy("id DESC").Limit(limit).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e  models.AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		if e.Time, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
