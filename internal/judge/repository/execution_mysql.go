package repository

import (
	"context"
	"time"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/model"
)

const executionColumns = "id, submission_id, testcase_id, ordinal, is_public, handle, status, input, expected_output, " +
	"outcome_kind, stdout, stderr, compile_output, time_ms, memory_kb, exit_code, description, verdict, created_at, finished_at"

// MySQLExecutionRepository implements ExecutionRepository with MySQL.
type MySQLExecutionRepository struct {
	db db.Database
}

func NewMySQLExecutionRepository(database db.Database) *MySQLExecutionRepository {
	return &MySQLExecutionRepository{db: database}
}

// CreateBatch inserts every execution in one transaction.
func (r *MySQLExecutionRepository) CreateBatch(ctx context.Context, execs []*model.Execution) error {
	if len(execs) == 0 {
		return nil
	}
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := "INSERT INTO executions (" + executionColumns + ") VALUES (" + db.Placeholders(20) + ")"
		for _, e := range execs {
			if _, err := tx.Exec(ctx, query,
				e.ID, e.SubmissionID, e.TestcaseID, e.Ordinal, e.Public, nullString(e.Handle), e.Status,
				e.Input, e.ExpectedOutput,
				e.Kind, e.Stdout, e.Stderr, e.CompileOutput, e.TimeMs, e.MemoryKB, e.ExitCode, e.Description,
				e.Verdict, e.CreatedAt, e.FinishedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if _, dup := db.UniqueViolation(err); dup {
		return ErrDuplicate
	}
	return err
}

func (r *MySQLExecutionRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*model.Execution, error) {
	rows, err := r.db.Query(ctx, "SELECT "+executionColumns+" FROM executions WHERE submission_id = ? ORDER BY ordinal, id", submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *MySQLExecutionRepository) GetByHandle(ctx context.Context, handle string) (*model.Execution, error) {
	row := r.db.QueryRow(ctx, "SELECT "+executionColumns+" FROM executions WHERE handle = ? LIMIT 1", handle)
	e, err := scanExecution(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// Complete writes the outcome only while the execution is still non-terminal.
func (r *MySQLExecutionRepository) Complete(ctx context.Context, id string, out model.Outcome, label model.Verdict, at time.Time) error {
	query := `
		UPDATE executions SET
			status = ?, outcome_kind = ?, stdout = ?, stderr = ?, compile_output = ?,
			time_ms = ?, memory_kb = ?, exit_code = ?, description = ?, verdict = ?, finished_at = ?
		WHERE id = ? AND status <> ?
	`
	res, err := r.db.Exec(ctx, query,
		model.StatusDone, out.Kind, out.Stdout, out.Stderr, out.CompileOutput,
		out.TimeMs, out.MemoryKB, out.ExitCode, out.Description, label, at,
		id, model.StatusDone,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := r.db.QueryRow(ctx, "SELECT 1 FROM executions WHERE id = ?", id).Scan(&exists); err != nil {
		if db.IsNoRows(err) {
			return ErrNotFound
		}
		return err
	}
	return ErrAlreadyTerminal
}

func scanExecution(row db.Row) (*model.Execution, error) {
	e := &model.Execution{}
	var handle *string
	if err := row.Scan(
		&e.ID, &e.SubmissionID, &e.TestcaseID, &e.Ordinal, &e.Public, &handle, &e.Status,
		&e.Input, &e.ExpectedOutput,
		&e.Kind, &e.Stdout, &e.Stderr, &e.CompileOutput, &e.TimeMs, &e.MemoryKB, &e.ExitCode, &e.Description,
		&e.Verdict, &e.CreatedAt, &e.FinishedAt,
	); err != nil {
		return nil, err
	}
	if handle != nil {
		e.Handle = *handle
	}
	return e, nil
}

var _ ExecutionRepository = (*MySQLExecutionRepository)(nil)
