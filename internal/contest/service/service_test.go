package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ojcore/internal/common/auth"
	"ojcore/internal/common/cache"
	"ojcore/internal/contest/model"
	"ojcore/internal/contest/repository"
	judgemodel "ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingContests struct {
	repository.ContestRepository
	mu    sync.Mutex
	calls int
}

func (c *countingContests) Get(ctx context.Context, id string) (*model.Contest, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.ContestRepository.Get(ctx, id)
}

func newTestService(t *testing.T, locker cache.LockOps, contests ...*model.Contest) (*Service, *repository.MemoryContestSubmissionRepository) {
	t.Helper()
	rows := repository.NewMemoryContestSubmissionRepository()
	svc, err := NewService(Config{
		Contests:    repository.NewMemoryContestRepository(contests...),
		Submissions: rows,
		Locker:      locker,
		LockWait:    100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, rows
}

func newTestLocker(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func finished(id string, user, problem int64, minute int, label judgemodel.Verdict, score float64) *judgemodel.Submission {
	return &judgemodel.Submission{
		ID: id, UserID: user, ProblemID: problem, ContestID: "c1",
		Status: judgemodel.StatusDone, Verdict: label, Score: score, CreatedAt: at(minute),
	}
}

func TestScoreAppendsOneRowPerSubmission(t *testing.T) {
	t.Parallel()
	locker, mr := newTestLocker(t)
	svc, rows := newTestService(t, locker, testContest(model.StyleACM))
	ctx := context.Background()

	first, err := svc.Score(ctx, finished("s1", 1, 100, 10, judgemodel.VerdictWrongAnswer, 40))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if first.Penalty != 10 || first.Points != 40 || first.Accepted() {
		t.Fatalf("unexpected first row %+v", first)
	}
	second, err := svc.Score(ctx, finished("s2", 1, 100, 30, judgemodel.VerdictAccepted, 100))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if second.Penalty != 30+model.DefaultPenaltyMinutes || second.Points != 100 || !second.SubmittedAt.Equal(at(30)) {
		t.Fatalf("unexpected second row %+v", second)
	}

	all, _ := rows.ListByContest(ctx, "c1")
	if len(all) != 2 || all[0].SubmissionID != "s1" || all[1].SubmissionID != "s2" {
		t.Fatalf("expected two rows in submission order, got %+v", all)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("scoring lock was not released: %v", mr.Keys())
	}
}

func TestScoreIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, rows := newTestService(t, nil, testContest(model.StyleACM))
	ctx := context.Background()
	sub := finished("s1", 1, 100, 10, judgemodel.VerdictAccepted, 100)

	first, err := svc.Score(ctx, sub)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	again, err := svc.Score(ctx, sub)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("rescore created a new row")
	}
	all, _ := rows.ListByContest(ctx, "c1")
	if len(all) != 1 {
		t.Fatalf("expected one row, got %d", len(all))
	}
}

func TestScoreConcurrentAttemptsSerialize(t *testing.T) {
	t.Parallel()
	locker, _ := newTestLocker(t)
	svc, rows := newTestService(t, locker, testContest(model.StyleACM))
	svc.lockWait = 2 * time.Second
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, minute := range []int{10, 20, 30} {
		wg.Add(1)
		go func(id string, minute int) {
			defer wg.Done()
			if _, err := svc.Score(ctx, finished(id, 1, 100, minute, judgemodel.VerdictWrongAnswer, 0)); err != nil {
				t.Errorf("score %s: %v", id, err)
			}
		}(string(rune('a'+i)), minute)
	}
	wg.Wait()

	all, _ := rows.ListByContest(ctx, "c1")
	if len(all) != 3 {
		t.Fatalf("expected three rows, got %d", len(all))
	}
}

func TestScoreLockBusy(t *testing.T) {
	t.Parallel()
	locker, mr := newTestLocker(t)
	svc, rows := newTestService(t, locker, testContest(model.StyleACM))
	if err := mr.Set(lockKey("c1", 1, 100), "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := svc.Score(context.Background(), finished("s1", 1, 100, 10, judgemodel.VerdictAccepted, 100))
	if !appErr.Is(err, appErr.LockFailed) {
		t.Fatalf("expected lock failure, got %v", err)
	}
	if all, _ := rows.ListByContest(context.Background(), "c1"); len(all) != 0 {
		t.Fatalf("no row may be written without the lock")
	}
}

func TestScoreRejectsInvalidSubmissions(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, testContest(model.StyleACM))
	ctx := context.Background()

	practice := finished("p", 1, 100, 10, judgemodel.VerdictAccepted, 100)
	practice.ContestID = ""
	if _, err := svc.Score(ctx, practice); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	running := finished("r", 1, 100, 10, "", 0)
	running.Status = judgemodel.StatusRunning
	if _, err := svc.Score(ctx, running); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected unfinished error, got %v", err)
	}
	if _, err := svc.Score(ctx, finished("x", 1, 999, 10, judgemodel.VerdictAccepted, 100)); !appErr.Is(err, appErr.ProblemNotInContest) {
		t.Fatalf("expected problem not in contest, got %v", err)
	}
	unknown := finished("u", 1, 100, 10, judgemodel.VerdictAccepted, 100)
	unknown.ContestID = "nope"
	if _, err := svc.Score(ctx, unknown); !appErr.Is(err, appErr.ContestNotFound) {
		t.Fatalf("expected contest not found, got %v", err)
	}
}

func TestCheckSubmission(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, testContest(model.StyleACM))
	member := auth.Principal{UserID: 1}
	cases := []struct {
		name    string
		p       auth.Principal
		problem int64
		at      time.Time
		code    appErr.ErrorCode
	}{
		{"before start", member, 100, at(-1), appErr.ContestNotStarted},
		{"at start", member, 100, at(0), appErr.Success},
		{"at end", member, 100, at(180), appErr.ContestEnded},
		{"not registered", auth.Principal{UserID: 42}, 100, at(10), appErr.NotRegistered},
		{"foreign problem", member, 300, at(10), appErr.ProblemNotInContest},
	}
	for _, tc := range cases {
		err := svc.CheckSubmission(context.Background(), tc.p, "c1", tc.problem, tc.at)
		if got := appErr.GetCode(err); got != tc.code {
			t.Fatalf("%s: expected %d, got %d (%v)", tc.name, tc.code, got, err)
		}
	}
}

func TestCanViewStandings(t *testing.T) {
	t.Parallel()
	hidden := testContest(model.StyleACM)
	hidden.Visible = false
	hidden.CreatorID = 77
	cases := []struct {
		name string
		c    *model.Contest
		p    auth.Principal
		want bool
	}{
		{"visible to anyone", testContest(model.StyleACM), auth.Principal{}, true},
		{"hidden anonymous", hidden, auth.Principal{}, false},
		{"hidden stranger", hidden, auth.Principal{UserID: 42}, false},
		{"hidden participant", hidden, auth.Principal{UserID: 2}, true},
		{"hidden creator", hidden, auth.Principal{UserID: 77}, true},
		{"hidden admin", hidden, auth.Principal{UserID: 42, Role: auth.RoleAdmin}, true},
	}
	for _, tc := range cases {
		if got := CanViewStandings(tc.c, tc.p); got != tc.want {
			t.Fatalf("%s: expected %v", tc.name, tc.want)
		}
	}
}

func TestStandingsAccessAndPhase(t *testing.T) {
	t.Parallel()
	hidden := testContest(model.StyleACM)
	hidden.Visible = false
	svc, _ := newTestService(t, nil, hidden)
	svc.now = func() time.Time { return at(60) }
	ctx := context.Background()

	if _, err := svc.Standings(ctx, auth.Principal{UserID: 42}, "c1"); !appErr.Is(err, appErr.ContestAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if _, err := svc.Score(ctx, finished("s1", 2, 100, 15, judgemodel.VerdictAccepted, 100)); err != nil {
		t.Fatalf("score: %v", err)
	}
	s, err := svc.Standings(ctx, auth.Principal{UserID: 2}, "c1")
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if s.Rows[0].UserID != 2 || s.Rows[0].Penalty != 15 || s.Phase != model.PhaseOngoing {
		t.Fatalf("unexpected standings %+v", s)
	}
	if phase, err := svc.Phase(ctx, "c1"); err != nil || phase != model.PhaseOngoing {
		t.Fatalf("phase: %s %v", phase, err)
	}
}

func TestContestMetadataIsCached(t *testing.T) {
	t.Parallel()
	repo := &countingContests{ContestRepository: repository.NewMemoryContestRepository(testContest(model.StyleACM))}
	svc, err := NewService(Config{Contests: repo, Submissions: repository.NewMemoryContestSubmissionRepository()})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	c, err := svc.Contest(ctx, "c1")
	if err != nil {
		t.Fatalf("contest: %v", err)
	}
	c.Participants = nil
	again, _ := svc.Contest(ctx, "c1")
	if repo.calls != 1 || !again.IsParticipant(1) {
		t.Fatalf("expected a single load and an unshared copy, calls=%d", repo.calls)
	}
}

func TestACMStandingsIgnoreGradingOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rejected := finished("s1", 1, 100, 10, judgemodel.VerdictTimeLimitExceeded, 0)
	accepted := finished("s2", 1, 100, 11, judgemodel.VerdictAccepted, 100)

	cells := make([]model.ProblemResult, 0, 2)
	for _, order := range [][]*judgemodel.Submission{{rejected, accepted}, {accepted, rejected}} {
		svc, _ := newTestService(t, nil, testContest(model.StyleACM))
		svc.now = func() time.Time { return at(60) }
		for _, sub := range order {
			if _, err := svc.Score(ctx, sub); err != nil {
				t.Fatalf("score %s: %v", sub.ID, err)
			}
		}
		s, err := svc.Standings(ctx, auth.Principal{UserID: 1}, "c1")
		if err != nil {
			t.Fatalf("standings: %v", err)
		}
		row := rowFor(t, s, 1)
		if row.Penalty != 11+model.DefaultPenaltyMinutes || row.Solved != 1 {
			t.Fatalf("expected the earlier rejection to be charged, got %+v", row)
		}
		cells = append(cells, row.Problems[0])
	}
	if cells[0].Penalty != cells[1].Penalty || cells[0].Attempts != cells[1].Attempts {
		t.Fatalf("grading order changed standings: %+v vs %+v", cells[0], cells[1])
	}
}

func TestCheckSubmissionSeesLateRegistration(t *testing.T) {
	t.Parallel()
	contests := repository.NewMemoryContestRepository(testContest(model.StyleACM))
	svc, err := NewService(Config{Contests: contests, Submissions: repository.NewMemoryContestSubmissionRepository()})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	late := auth.Principal{UserID: 42}
	if err := svc.CheckSubmission(ctx, late, "c1", 100, at(10)); !appErr.Is(err, appErr.NotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}

	c := testContest(model.StyleACM)
	c.Participants = append(c.Participants, 42)
	contests.Put(c)
	if err := svc.CheckSubmission(ctx, late, "c1", 100, at(11)); err != nil {
		t.Fatalf("registered user rejected by cached metadata: %v", err)
	}
	if cached, _ := svc.Contest(ctx, "c1"); !cached.IsParticipant(42) {
		t.Fatalf("cache was not refreshed")
	}
}
