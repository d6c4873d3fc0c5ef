package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"ojcore/internal/judge/model"
)

func TestMemorySubmissionUpdateIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemorySubmissionRepository()
	sub := &model.Submission{ID: "s1", Status: model.StatusPending, CreatedAt: time.Now()}
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := repo.Get(ctx, "s1")
	second, _ := repo.Get(ctx, "s1")

	first.DoneTests = 1
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	second.DoneTests = 1
	if err := repo.Update(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := repo.Get(ctx, "s1")
	if got.Version != 2 || first.Version != 2 {
		t.Fatalf("unexpected versions stored=%d caller=%d", got.Version, first.Version)
	}
	if err := repo.Create(ctx, sub); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestMemorySubmissionListByStatusUsesAge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemorySubmissionRepository()
	now := time.Now()
	old := now.Add(-time.Hour)
	_ = repo.Create(ctx, &model.Submission{ID: "pending-old", Status: model.StatusPending, CreatedAt: old})
	_ = repo.Create(ctx, &model.Submission{ID: "pending-new", Status: model.StatusPending, CreatedAt: now})
	_ = repo.Create(ctx, &model.Submission{ID: "running-old", Status: model.StatusRunning, CreatedAt: now, DispatchedAt: &old})

	pending, err := repo.ListByStatus(ctx, model.StatusPending, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "pending-old" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
	running, _ := repo.ListByStatus(ctx, model.StatusRunning, now.Add(-time.Minute), 10)
	if len(running) != 1 || running[0].ID != "running-old" {
		t.Fatalf("unexpected running list: %+v", running)
	}
}

func TestMemoryExecutionCompleteOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryExecutionRepository()
	execs := []*model.Execution{
		{ID: "e2", SubmissionID: "s1", Ordinal: 2, Handle: "h2", Status: model.StatusRunning},
		{ID: "e1", SubmissionID: "s1", Ordinal: 1, Handle: "h1", Status: model.StatusRunning},
	}
	if err := repo.CreateBatch(ctx, execs); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	out := model.Outcome{Kind: model.OutcomeCompleted, Stdout: "1\n"}
	if err := repo.Complete(ctx, "e1", out, model.VerdictAccepted, time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := repo.Complete(ctx, "e1", out, model.VerdictAccepted, time.Now()); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
	if err := repo.Complete(ctx, "missing", out, model.VerdictAccepted, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, _ := repo.ListBySubmission(ctx, "s1")
	if len(list) != 2 || list[0].ID != "e1" || list[0].Status != model.StatusDone {
		t.Fatalf("unexpected list: %+v", list)
	}
	byHandle, err := repo.GetByHandle(ctx, "h2")
	if err != nil || byHandle.ID != "e2" {
		t.Fatalf("get by handle: %v %+v", err, byHandle)
	}
}

func TestMemoryExecutionBatchRejectsDuplicateHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryExecutionRepository()
	_ = repo.CreateBatch(ctx, []*model.Execution{{ID: "e1", SubmissionID: "s1", Handle: "h1"}})

	err := repo.CreateBatch(ctx, []*model.Execution{
		{ID: "e2", SubmissionID: "s2", Handle: "h2"},
		{ID: "e3", SubmissionID: "s2", Handle: "h1"},
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	list, _ := repo.ListBySubmission(ctx, "s2")
	if len(list) != 0 {
		t.Fatalf("batch must be all or nothing, got %d rows", len(list))
	}
}

func TestMemoryStatsSaveDetectsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryStatsRepository()

	a, _ := repo.Get(ctx, 7)
	b, _ := repo.Get(ctx, 7)
	a.TotalSubmissions++
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	b.TotalSubmissions++
	if err := repo.Save(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := repo.Get(ctx, 7)
	if got.TotalSubmissions != 1 || got.Version != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}
