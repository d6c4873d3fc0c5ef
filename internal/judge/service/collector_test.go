package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
)

func TestAllResultsFinishSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(10, 3))
	id := h.submit(t, 10)

	if got := h.get(t, id); got.Status != model.StatusRunning || got.TotalTests != 3 {
		t.Fatalf("expected RUNNING with 3 tests, got %s %d", got.Status, got.TotalTests)
	}
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := h.collector.OnResult(ctx, handle(i), passing(i)); err != nil {
			t.Fatalf("on result %d: %v", i, err)
		}
	}

	sub := h.get(t, id)
	if sub.Status != model.StatusDone || sub.Verdict != model.VerdictAccepted || sub.Score != 100 {
		t.Fatalf("unexpected final state %s %s %v", sub.Status, sub.Verdict, sub.Score)
	}
	if sub.PassedTests != 3 || sub.FinishedAt == nil {
		t.Fatalf("unexpected passed=%d finished=%v", sub.PassedTests, sub.FinishedAt)
	}
	if !sub.HooksComplete || h.hook.count(id) != 1 {
		t.Fatalf("hooks not applied once: complete=%v calls=%d", sub.HooksComplete, h.hook.count(id))
	}
	stats, _ := h.stats.Get(ctx, 10)
	if stats.TotalSubmissions != 1 || stats.AcceptedSubmissions != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPartialScoreUsesFirstFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(11, 5))
	id := h.submit(t, 11)
	ctx := context.Background()

	outcomes := map[int]model.Outcome{
		1: passing(1),
		2: wrong(),
		3: passing(3),
		4: {Kind: model.OutcomeTimeLimit, TimeMs: 1000},
		5: passing(5),
	}
	for i, out := range outcomes {
		if err := h.collector.OnResult(ctx, handle(i), out); err != nil {
			t.Fatalf("on result %d: %v", i, err)
		}
	}
	sub := h.get(t, id)
	if sub.Verdict != model.VerdictWrongAnswer || sub.Score != 60 || sub.PassedTests != 3 {
		t.Fatalf("unexpected result %s %v %d", sub.Verdict, sub.Score, sub.PassedTests)
	}
	stats, _ := h.stats.Get(ctx, 11)
	if stats.TotalSubmissions != 1 || stats.AcceptedSubmissions != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDuplicateResultIsNoOp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(12, 2))
	id := h.submit(t, 12)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.collector.OnResult(ctx, handle(1), passing(1)); err != nil {
			t.Fatalf("on result: %v", err)
		}
	}
	sub := h.get(t, id)
	if sub.DoneTests != 1 || sub.Status != model.StatusRunning {
		t.Fatalf("duplicate deliveries changed state: done=%d status=%s", sub.DoneTests, sub.Status)
	}

	// A later, different outcome for the same handle does not overwrite the first.
	if err := h.collector.OnResult(ctx, handle(1), wrong()); err != nil {
		t.Fatalf("on result: %v", err)
	}
	execs, _ := h.executions.ListBySubmission(ctx, id)
	if execs[0].Verdict != model.VerdictAccepted {
		t.Fatalf("terminal execution was overwritten: %s", execs[0].Verdict)
	}
}

func TestRacingLastResultsFinishOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(13, 4))
	id := h.submit(t, 13)
	ctx := context.Background()

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for i := 1; i <= 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := h.collector.OnResult(ctx, handle(i), passing(i)); err != nil {
					t.Errorf("on result %d: %v", i, err)
				}
			}(i)
		}
	}
	wg.Wait()

	sub := h.get(t, id)
	if sub.Status != model.StatusDone || sub.DoneTests != 4 {
		t.Fatalf("unexpected state %s done=%d", sub.Status, sub.DoneTests)
	}
	if got := h.hook.count(id); got != 1 {
		t.Fatalf("expected exactly one DONE transition, hook ran %d times", got)
	}
	stats, _ := h.stats.Get(ctx, 13)
	if stats.TotalSubmissions != 1 {
		t.Fatalf("stats applied %d times", stats.TotalSubmissions)
	}
}

func TestEarlyResultIsParkedAndReplayed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(14, 2))
	ctx := context.Background()

	if err := h.collector.OnResult(ctx, handle(2), passing(2)); err != nil {
		t.Fatalf("early result: %v", err)
	}
	if out, _ := h.parked.Take(ctx, handle(2)); out == nil {
		t.Fatalf("expected result to be parked")
	} else {
		_ = h.parked.Park(ctx, handle(2), *out)
	}

	id := h.submit(t, 14)
	sub := h.get(t, id)
	if sub.DoneTests != 1 {
		t.Fatalf("parked result not replayed, done=%d", sub.DoneTests)
	}
	if out, _ := h.parked.Take(ctx, handle(2)); out != nil {
		t.Fatalf("parked result should be consumed")
	}

	if err := h.collector.OnResult(ctx, handle(1), passing(1)); err != nil {
		t.Fatalf("on result: %v", err)
	}
	if got := h.get(t, id); got.Verdict != model.VerdictAccepted {
		t.Fatalf("unexpected verdict %s", got.Verdict)
	}
}

func TestDeliverDropsOrphanedHandle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(15, 2))
	h.client.fail["in2"] = errors.New("connection refused")
	id := h.submit(t, 15)
	ctx := context.Background()

	err := h.collector.Deliver(ctx, model.ExecutionResultEvent{SubmissionID: id, Handle: handle(1), Outcome: passing(1)})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if out, _ := h.parked.Take(ctx, handle(1)); out != nil {
		t.Fatalf("orphaned result must not be parked")
	}
}

// conflictingStats fails the first Save with a version conflict.
type conflictingStats struct {
	*repository.MemoryStatsRepository
	conflicts int
}

func (c *conflictingStats) Save(ctx context.Context, s *model.ProblemStats) error {
	if c.conflicts > 0 {
		c.conflicts--
		return repository.ErrConflict
	}
	return c.MemoryStatsRepository.Save(ctx, s)
}

func TestProblemStatsRetriesOnConflict(t *testing.T) {
	t.Parallel()
	stats := &conflictingStats{MemoryStatsRepository: repository.NewMemoryStatsRepository(), conflicts: 2}
	handler := NewProblemStatsHandler(stats, 5)
	sub := &model.Submission{ID: "s1", ProblemID: 3, Status: model.StatusDone, Verdict: model.VerdictAccepted}

	if err := handler.HandleFinalStatus(context.Background(), sub); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := stats.Get(context.Background(), 3)
	if got.TotalSubmissions != 1 || got.AcceptedSubmissions != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}

	stats.conflicts = 10
	if err := handler.HandleFinalStatus(context.Background(), sub); err == nil {
		t.Fatalf("expected retries to be exhausted")
	}
}

func TestResultsBeforeMarkRunningStillDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := &model.Submission{ID: "racy", UserID: 1, ProblemID: 16, Status: model.StatusPending,
		TotalTests: 2, TimeLimitMs: 1000, CreatedAt: time.Now()}
	if err := h.submissions.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = h.executions.CreateBatch(ctx, []*model.Execution{
		{ID: "r1", SubmissionID: "racy", Ordinal: 1, Handle: "r-1", Status: model.StatusPending, ExpectedOutput: "out1\n"},
		{ID: "r2", SubmissionID: "racy", Ordinal: 2, Handle: "r-2", Status: model.StatusPending, ExpectedOutput: "out2\n"},
	})

	for i, hd := range []string{"r-1", "r-2"} {
		if err := h.collector.OnResult(ctx, hd, passing(i+1)); err != nil {
			t.Fatalf("on result %s: %v", hd, err)
		}
	}
	got := h.get(t, "racy")
	if got.Status != model.StatusDone || got.Verdict != model.VerdictAccepted || got.DoneTests != 2 {
		t.Fatalf("unexpected state %s %s %d", got.Status, got.Verdict, got.DoneTests)
	}
	if got.DispatchedAt == nil || got.FinishedAt == nil || got.FinishedAt.Before(*got.DispatchedAt) {
		t.Fatalf("expected dispatch time before finish, got %v %v", got.DispatchedAt, got.FinishedAt)
	}

	// A late markRunning leaves the finished submission alone.
	if err := h.dispatcher.Resume(ctx, "racy", nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again := h.get(t, "racy"); again.Status != model.StatusDone {
		t.Fatalf("resume reopened a finished submission: %s", again.Status)
	}
}
