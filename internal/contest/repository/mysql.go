package repository

import (
	"context"

	"ojcore/internal/common/db"
	"ojcore/internal/contest/model"
)

// MySQLContestRepository reads contests, their problems and participants.
type MySQLContestRepository struct {
	db db.Database
}

func NewMySQLContestRepository(database db.Database) *MySQLContestRepository {
	return &MySQLContestRepository{db: database}
}

func (r *MySQLContestRepository) Get(ctx context.Context, id string) (*model.Contest, error) {
	c := &model.Contest{}
	row := r.db.QueryRow(ctx, `
		SELECT id, title, start_at, end_at, visible, capacity, creator_id, style, points_mode, attempt_policy, penalty_minutes
		FROM contests WHERE id = ? LIMIT 1`, id)
	if err := row.Scan(
		&c.ID, &c.Title, &c.StartAt, &c.EndAt, &c.Visible, &c.Capacity, &c.CreatorID,
		&c.Style, &c.PointsMode, &c.AttemptPolicy, &c.PenaltyMinutes,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	problems, err := r.db.Query(ctx,
		"SELECT problem_id, sort_order, label, weight FROM contest_problems WHERE contest_id = ? ORDER BY sort_order", id)
	if err != nil {
		return nil, err
	}
	defer problems.Close()
	for problems.Next() {
		var p model.ContestProblem
		if err := problems.Scan(&p.ProblemID, &p.Order, &p.Label, &p.Weight); err != nil {
			return nil, err
		}
		c.Problems = append(c.Problems, p)
	}
	if err := problems.Err(); err != nil {
		return nil, err
	}

	participants, err := r.db.Query(ctx, "SELECT user_id FROM contest_participants WHERE contest_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer participants.Close()
	for participants.Next() {
		var uid int64
		if err := participants.Scan(&uid); err != nil {
			return nil, err
		}
		c.Participants = append(c.Participants, uid)
	}
	return c, participants.Err()
}

const contestSubmissionColumns = "id, contest_id, user_id, problem_id, submission_id, verdict, score, points, penalty, submitted_at, created_at"

// MySQLContestSubmissionRepository stores contest submissions; submission_id is a unique key.
type MySQLContestSubmissionRepository struct {
	db db.Database
}

func NewMySQLContestSubmissionRepository(database db.Database) *MySQLContestSubmissionRepository {
	return &MySQLContestSubmissionRepository{db: database}
}

func (r *MySQLContestSubmissionRepository) Create(ctx context.Context, cs *model.ContestSubmission) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO contest_submissions ("+contestSubmissionColumns+") VALUES ("+db.Placeholders(11)+")",
		cs.ID, cs.ContestID, cs.UserID, cs.ProblemID, cs.SubmissionID, cs.Verdict, cs.Score, cs.Points, cs.Penalty,
		cs.SubmittedAt, cs.CreatedAt,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return ErrDuplicate
	}
	return err
}

func (r *MySQLContestSubmissionRepository) GetBySubmission(ctx context.Context, submissionID string) (*model.ContestSubmission, error) {
	row := r.db.QueryRow(ctx, "SELECT "+contestSubmissionColumns+" FROM contest_submissions WHERE submission_id = ? LIMIT 1", submissionID)
	cs, err := scanContestSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cs, nil
}

func (r *MySQLContestSubmissionRepository) ListByUserProblem(ctx context.Context, contestID string, userID, problemID int64) ([]*model.ContestSubmission, error) {
	return r.list(ctx, "SELECT "+contestSubmissionColumns+" FROM contest_submissions "+
		"WHERE contest_id = ? AND user_id = ? AND problem_id = ? ORDER BY submitted_at, id", contestID, userID, problemID)
}

func (r *MySQLContestSubmissionRepository) ListByContest(ctx context.Context, contestID string) ([]*model.ContestSubmission, error) {
	return r.list(ctx, "SELECT "+contestSubmissionColumns+" FROM contest_submissions WHERE contest_id = ? ORDER BY submitted_at, id", contestID)
}

func (r *MySQLContestSubmissionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.ContestSubmission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.ContestSubmission, 0)
	for rows.Next() {
		cs, err := scanContestSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func scanContestSubmission(row db.Row) (*model.ContestSubmission, error) {
	cs := &model.ContestSubmission{}
	err := row.Scan(&cs.ID, &cs.ContestID, &cs.UserID, &cs.ProblemID, &cs.SubmissionID, &cs.Verdict,
		&cs.Score, &cs.Points, &cs.Penalty, &cs.SubmittedAt, &cs.CreatedAt)
	return cs, err
}

var (
	_ ContestRepository           = (*MySQLContestRepository)(nil)
	_ ContestSubmissionRepository = (*MySQLContestSubmissionRepository)(nil)
)
