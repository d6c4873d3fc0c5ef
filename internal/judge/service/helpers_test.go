package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ojcore/internal/common/auth"
	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
)

// fakeClient issues handle "h-<stdin>" for every request.
type fakeClient struct {
	mu        sync.Mutex
	fail      map[string]error
	results   map[string]model.Outcome
	submitted []execclient.ExecutionRequest
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: make(map[string]error), results: make(map[string]model.Outcome)}
}

func (f *fakeClient) Submit(ctx context.Context, req execclient.ExecutionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[req.Stdin]; ok {
		return "", err
	}
	f.submitted = append(f.submitted, req)
	return "h-" + req.Stdin, nil
}

func (f *fakeClient) Result(ctx context.Context, handle string) (model.Outcome, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, ok := f.results[handle]
	if !ok {
		return model.Outcome{}, true, nil
	}
	return out, false, nil
}

func (f *fakeClient) Supports(language string) bool {
	return language == "cpp" || language == "python"
}

func (f *fakeClient) requests() []execclient.ExecutionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execclient.ExecutionRequest(nil), f.submitted...)
}

// recordingHook counts invocations per submission and can fail the first calls.
type recordingHook struct {
	name     string
	mu       sync.Mutex
	calls    map[string]int
	failures int
}

func newRecordingHook(name string, failures int) *recordingHook {
	return &recordingHook{name: name, calls: make(map[string]int), failures: failures}
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) HandleFinalStatus(ctx context.Context, sub *model.Submission) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures > 0 {
		h.failures--
		return errors.New("hook unavailable")
	}
	h.calls[sub.ID]++
	return nil
}

func (h *recordingHook) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

type harness struct {
	client      *fakeClient
	problems    *repository.MemoryProblemRepository
	submissions *repository.MemorySubmissionRepository
	executions  *repository.MemoryExecutionRepository
	parked      *repository.MemoryParkedResultStore
	stats       *repository.MemoryStatsRepository
	hook        *recordingHook
	hooks       *HookRunner
	collector   *Collector
	dispatcher  *Dispatcher
	engine      *Engine
}

func newHarness(t *testing.T, hook *recordingHook) *harness {
	t.Helper()
	h := &harness{
		client:      newFakeClient(),
		problems:    repository.NewMemoryProblemRepository(),
		submissions: repository.NewMemorySubmissionRepository(),
		executions:  repository.NewMemoryExecutionRepository(),
		parked:      repository.NewMemoryParkedResultStore(),
		stats:       repository.NewMemoryStatsRepository(),
	}
	if hook == nil {
		hook = newRecordingHook("record", 0)
	}
	h.hook = hook
	h.hooks = NewHookRunner(h.submissions, 0, NewProblemStatsHandler(h.stats, 0), hook)
	h.collector = NewCollector(h.submissions, h.executions, h.parked, h.hooks, 0)
	h.dispatcher = NewDispatcher(h.client, h.submissions, h.executions, h.collector, nil, 4, 0)
	engine, err := NewEngine(Config{
		Client:      h.client,
		Problems:    h.problems,
		Submissions: h.submissions,
		Executions:  h.executions,
		Dispatcher:  h.dispatcher,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

func testProblem(id int64, n int) *model.Problem {
	p := &model.Problem{
		ID:               id,
		Title:            "echo",
		TimeLimitSeconds: 1,
		MemoryLimitMB:    256,
		ScoringPolicy:    model.ScoringPartial,
	}
	for i := 1; i <= n; i++ {
		p.Testcases = append(p.Testcases, model.Testcase{
			ID:             int64(i),
			ProblemID:      id,
			Ordinal:        i,
			Input:          fmt.Sprintf("in%d", i),
			ExpectedOutput: fmt.Sprintf("out%d\n", i),
			Public:         i == 1,
		})
	}
	return p
}

func passing(i int) model.Outcome {
	return model.Outcome{Kind: model.OutcomeCompleted, Stdout: fmt.Sprintf("out%d\n", i), TimeMs: 10, MemoryKB: 1024}
}

func wrong() model.Outcome {
	return model.Outcome{Kind: model.OutcomeCompleted, Stdout: "nope\n", TimeMs: 10, MemoryKB: 1024}
}

func handle(i int) string {
	return fmt.Sprintf("h-in%d", i)
}

var alice = auth.Principal{UserID: 1}

func (h *harness) submit(t *testing.T, problemID int64) string {
	t.Helper()
	id, err := h.engine.Submit(context.Background(), alice, SubmitRequest{
		ProblemID:  problemID,
		Language:   "cpp",
		SourceCode: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func (h *harness) get(t *testing.T, id string) *model.Submission {
	t.Helper()
	sub, err := h.submissions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	return sub
}

func future(d time.Duration) func() time.Time {
	return func() time.Time { return time.Now().Add(d) }
}
