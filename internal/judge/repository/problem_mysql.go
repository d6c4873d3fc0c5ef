package repository

import (
	"context"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/model"
)

// MySQLProblemRepository reads problems and testcases from MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

func NewMySQLProblemRepository(database db.Database) *MySQLProblemRepository {
	return &MySQLProblemRepository{db: database}
}

func (r *MySQLProblemRepository) Get(ctx context.Context, id int64) (*model.Problem, error) {
	p := &model.Problem{}
	row := r.db.QueryRow(ctx,
		"SELECT id, title, time_limit_seconds, memory_limit_mb, scoring_policy FROM problems WHERE id = ? LIMIT 1", id)
	if err := row.Scan(&p.ID, &p.Title, &p.TimeLimitSeconds, &p.MemoryLimitMB, &p.ScoringPolicy); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		"SELECT id, problem_id, ordinal, input, expected_output, is_public FROM testcases WHERE problem_id = ? ORDER BY ordinal, id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.Testcase
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.Public); err != nil {
			return nil, err
		}
		p.Testcases = append(p.Testcases, tc)
	}
	return p, rows.Err()
}

// MySQLStatsRepository stores problem counters in MySQL.
type MySQLStatsRepository struct {
	db db.Database
}

func NewMySQLStatsRepository(database db.Database) *MySQLStatsRepository {
	return &MySQLStatsRepository{db: database}
}

func (r *MySQLStatsRepository) Get(ctx context.Context, problemID int64) (*model.ProblemStats, error) {
	s := &model.ProblemStats{ProblemID: problemID}
	row := r.db.QueryRow(ctx,
		"SELECT total_submissions, accepted_submissions, version FROM problem_stats WHERE problem_id = ?", problemID)
	if err := row.Scan(&s.TotalSubmissions, &s.AcceptedSubmissions, &s.Version); err != nil {
		if db.IsNoRows(err) {
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *MySQLStatsRepository) Save(ctx context.Context, stats *model.ProblemStats) error {
	if stats.Version == 0 {
		_, err := r.db.Exec(ctx,
			"INSERT INTO problem_stats (problem_id, total_submissions, accepted_submissions, version) VALUES (?, ?, ?, 1)",
			stats.ProblemID, stats.TotalSubmissions, stats.AcceptedSubmissions)
		if err != nil {
			if _, dup := db.UniqueViolation(err); dup {
				return ErrConflict
			}
			return err
		}
		stats.Version = 1
		return nil
	}
	res, err := r.db.Exec(ctx,
		"UPDATE problem_stats SET total_submissions = ?, accepted_submissions = ?, version = version + 1 WHERE problem_id = ? AND version = ?",
		stats.TotalSubmissions, stats.AcceptedSubmissions, stats.ProblemID, stats.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	stats.Version++
	return nil
}

var (
	_ ProblemRepository = (*MySQLProblemRepository)(nil)
	_ StatsRepository   = (*MySQLStatsRepository)(nil)
)
