package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/model"
)

const submissionColumns = "id, user_id, problem_id, contest_id, language, source_code, source_key, status, verdict, score, " +
	"passed_tests, total_tests, done_tests, message, time_limit_ms, memory_limit_kb, scoring_policy, " +
	"hooks_done, hooks_complete, version, created_at, dispatched_at, finished_at"

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

func NewMySQLSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

// Create inserts a submission record with version 1.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return errors.New("submission id is required")
	}
	query := "INSERT INTO submissions (" + submissionColumns + ") VALUES (" + db.Placeholders(23) + ")"
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.ProblemID, nullString(sub.ContestID), sub.Language, sub.SourceCode, sub.SourceKey,
		sub.Status, sub.Verdict, sub.Score, sub.PassedTests, sub.TotalTests, sub.DoneTests, sub.Message,
		sub.TimeLimitMs, sub.MemoryLimitKB, sub.ScoringPolicy,
		strings.Join(sub.HooksDone, ","), sub.HooksComplete, 1, sub.CreatedAt, sub.DispatchedAt, sub.FinishedAt,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrDuplicate
		}
		return err
	}
	sub.Version = 1
	return nil
}

func (r *MySQLSubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := r.db.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ? LIMIT 1", id)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// Update is a compare-and-swap on version.
func (r *MySQLSubmissionRepository) Update(ctx context.Context, sub *model.Submission) error {
	query := `
		UPDATE submissions SET
			status = ?, verdict = ?, score = ?, passed_tests = ?, total_tests = ?, done_tests = ?, message = ?,
			time_limit_ms = ?, memory_limit_kb = ?, scoring_policy = ?, source_key = ?,
			hooks_done = ?, hooks_complete = ?, dispatched_at = ?, finished_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := r.db.Exec(ctx, query,
		sub.Status, sub.Verdict, sub.Score, sub.PassedTests, sub.TotalTests, sub.DoneTests, sub.Message,
		sub.TimeLimitMs, sub.MemoryLimitKB, sub.ScoringPolicy, sub.SourceKey,
		strings.Join(sub.HooksDone, ","), sub.HooksComplete, sub.DispatchedAt, sub.FinishedAt,
		sub.ID, sub.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRow(ctx, "SELECT 1 FROM submissions WHERE id = ?", sub.ID).Scan(&exists); err != nil {
			if db.IsNoRows(err) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	}
	sub.Version++
	return nil
}

func (r *MySQLSubmissionRepository) ListByStatus(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Submission, error) {
	ageColumn := "dispatched_at"
	if status == model.StatusPending {
		ageColumn = "created_at"
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE status = ? AND (" + ageColumn + " IS NULL OR " +
		ageColumn + " < ?) ORDER BY " + ageColumn + " LIMIT ?"
	return r.list(ctx, query, status, before, listLimit(limit))
}

func (r *MySQLSubmissionRepository) ListHooksPending(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE status = ? AND hooks_complete = 0 " +
		"AND finished_at < ? ORDER BY finished_at LIMIT ?"
	return r.list(ctx, query, model.StatusDone, finishedBefore, listLimit(limit))
}

func (r *MySQLSubmissionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	sub := &model.Submission{}
	var contestID *string
	var hooks string
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProblemID, &contestID, &sub.Language, &sub.SourceCode, &sub.SourceKey,
		&sub.Status, &sub.Verdict, &sub.Score, &sub.PassedTests, &sub.TotalTests, &sub.DoneTests, &sub.Message,
		&sub.TimeLimitMs, &sub.MemoryLimitKB, &sub.ScoringPolicy,
		&hooks, &sub.HooksComplete, &sub.Version, &sub.CreatedAt, &sub.DispatchedAt, &sub.FinishedAt,
	); err != nil {
		return nil, err
	}
	if contestID != nil {
		sub.ContestID = *contestID
	}
	if hooks != "" {
		sub.HooksDone = strings.Split(hooks, ",")
	}
	return sub, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
