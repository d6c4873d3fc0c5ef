package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"ojcore/internal/common/auth"
	"ojcore/internal/common/cache"
	"ojcore/internal/common/storage"
	contestmodel "ojcore/internal/contest/model"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	appErr "ojcore/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
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

// rebuild replaces the harness engine with one using the given optional dependencies.
func (h *harness) rebuild(t *testing.T, cfg Config) {
	t.Helper()
	cfg.Client = h.client
	cfg.Problems = h.problems
	cfg.Submissions = h.submissions
	cfg.Executions = h.executions
	cfg.Dispatcher = h.dispatcher
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
}

func (h *harness) countSubmissions(t *testing.T) int {
	t.Helper()
	total := 0
	for _, status := range []model.Status{model.StatusPending, model.StatusRunning, model.StatusDone} {
		subs, err := h.submissions.ListByStatus(context.Background(), status, time.Now().Add(time.Hour), 100)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		total += len(subs)
	}
	return total
}

func TestSubmitValidationCreatesNoState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(40, 2))
	h.problems.Put(&model.Problem{ID: 41, Title: "empty", TimeLimitSeconds: 1, MemoryLimitMB: 64})

	cases := []struct {
		name string
		p    auth.Principal
		req  SubmitRequest
		code appErr.ErrorCode
	}{
		{"anonymous", auth.Principal{}, SubmitRequest{ProblemID: 40, Language: "cpp", SourceCode: "x"}, appErr.Unauthorized},
		{"missing problem id", alice, SubmitRequest{Language: "cpp", SourceCode: "x"}, appErr.ValidationFailed},
		{"unknown language", alice, SubmitRequest{ProblemID: 40, Language: "cobol", SourceCode: "x"}, appErr.LanguageNotSupported},
		{"blank source", alice, SubmitRequest{ProblemID: 40, Language: "cpp", SourceCode: "  \n"}, appErr.ValidationFailed},
		{"source too large", alice, SubmitRequest{ProblemID: 40, Language: "cpp", SourceCode: strings.Repeat("a", defaultMaxSourceBytes+1)}, appErr.CodeTooLarge},
		{"unknown problem", alice, SubmitRequest{ProblemID: 99, Language: "cpp", SourceCode: "x"}, appErr.ProblemNotFound},
		{"no testcases", alice, SubmitRequest{ProblemID: 41, Language: "cpp", SourceCode: "x"}, appErr.ProblemHasNoTestcases},
	}
	for _, tc := range cases {
		_, err := h.engine.Submit(context.Background(), tc.p, tc.req)
		if got := appErr.GetCode(err); got != tc.code {
			t.Fatalf("%s: expected code %d, got %d (%v)", tc.name, tc.code, got, err)
		}
	}
	if n := h.countSubmissions(t); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if len(h.client.requests()) != 0 {
		t.Fatalf("expected no execution requests")
	}
}

func TestSubmitDefaultsScoringPolicy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	p := testProblem(42, 1)
	p.ScoringPolicy = ""
	h.problems.Put(p)
	id := h.submit(t, 42)

	sub := h.get(t, id)
	if sub.ScoringPolicy != model.ScoringPartial || sub.TotalTests != 1 || sub.UserID != alice.UserID {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestSubmitIdempotencyReturnsExistingID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c, _ := newTestCache(t)
	h.rebuild(t, Config{Cache: c})
	h.problems.Put(testProblem(43, 2))

	req := SubmitRequest{ProblemID: 43, Language: "cpp", SourceCode: "x", IdempotencyKey: "k1"}
	first, err := h.engine.Submit(context.Background(), alice, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := h.engine.Submit(context.Background(), alice, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id, got %s and %s", first, second)
	}
	if len(h.client.requests()) != 2 {
		t.Fatalf("expected a single fan-out, got %d requests", len(h.client.requests()))
	}

	// The key is scoped per user.
	other, err := h.engine.Submit(context.Background(), auth.Principal{UserID: 2}, req)
	if err != nil || other == first {
		t.Fatalf("expected a distinct submission for another user: %s %v", other, err)
	}
}

func TestSubmitIdempotencyInFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c, _ := newTestCache(t)
	h.rebuild(t, Config{Cache: c})
	h.problems.Put(testProblem(44, 1))
	if err := c.Set(context.Background(), idempotencyCacheKey(alice.UserID, "busy"), processingMarker, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := h.engine.Submit(context.Background(), alice, SubmitRequest{ProblemID: 44, Language: "cpp", SourceCode: "x", IdempotencyKey: "busy"})
	if !appErr.Is(err, appErr.TooManyRequests) {
		t.Fatalf("expected too many requests, got %v", err)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c, mr := newTestCache(t)
	h.rebuild(t, Config{Cache: c, RateLimit: RateLimitConfig{UserMax: 2, Window: time.Minute}})
	h.problems.Put(testProblem(45, 1))

	h.submit(t, 45)
	h.submit(t, 45)
	_, err := h.engine.Submit(context.Background(), alice, SubmitRequest{ProblemID: 45, Language: "cpp", SourceCode: "x"})
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if ttl := mr.TTL(rateUserKeyPrefix + "1"); ttl <= 0 {
		t.Fatalf("rate key must expire, ttl=%v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	h.submit(t, 45)
}

func TestSubmitIdempotentRetrySkipsRateLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c, mr := newTestCache(t)
	h.rebuild(t, Config{Cache: c, RateLimit: RateLimitConfig{UserMax: 1, Window: time.Minute}})
	h.problems.Put(testProblem(49, 1))
	ctx := context.Background()

	req := SubmitRequest{ProblemID: 49, Language: "cpp", SourceCode: "x", IdempotencyKey: "retry"}
	first, err := h.engine.Submit(ctx, alice, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := h.engine.Submit(ctx, alice, req)
		if err != nil || again != first {
			t.Fatalf("retry %d: expected %s, got %s %v", i, first, again, err)
		}
	}

	// A new key over budget is refused and does not stay reserved.
	fresh := SubmitRequest{ProblemID: 49, Language: "cpp", SourceCode: "x", IdempotencyKey: "fresh"}
	if _, err := h.engine.Submit(ctx, alice, fresh); !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if mr.Exists(idempotencyCacheKey(alice.UserID, "fresh")) {
		t.Fatalf("refused submission left its idempotency key behind")
	}
	if h.countSubmissions(t) != 1 {
		t.Fatalf("expected one stored submission, got %d", h.countSubmissions(t))
	}
}

func TestSubmitArchivesSource(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	archive := storage.NewSourceArchive(storage.NewMemoryStorage(), "sources", "")
	h.rebuild(t, Config{Archive: archive})
	h.problems.Put(testProblem(46, 1))
	id := h.submit(t, 46)

	sub := h.get(t, id)
	if sub.SourceKey != archive.Key(id) {
		t.Fatalf("unexpected source key %q", sub.SourceKey)
	}
	src, err := archive.Get(context.Background(), sub.SourceKey)
	if err != nil || string(src) != "int main() {}" {
		t.Fatalf("archived source mismatch: %q %v", src, err)
	}
}

type stubContests struct {
	checkErr error
	checked  []time.Time
}

func (s *stubContests) Score(ctx context.Context, sub *model.Submission) (*contestmodel.ContestSubmission, error) {
	return nil, nil
}

func (s *stubContests) CheckSubmission(ctx context.Context, p auth.Principal, contestID string, problemID int64, at time.Time) error {
	s.checked = append(s.checked, at)
	return s.checkErr
}

func (s *stubContests) Standings(ctx context.Context, p auth.Principal, contestID string) (*contestmodel.Standings, error) {
	return &contestmodel.Standings{ContestID: contestID}, nil
}

func TestSubmitContestRejection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	contests := &stubContests{checkErr: appErr.New(appErr.ContestEnded)}
	h.rebuild(t, Config{Contests: contests})
	h.problems.Put(testProblem(47, 1))

	_, err := h.engine.Submit(context.Background(), alice, SubmitRequest{ProblemID: 47, ContestID: "c1", Language: "cpp", SourceCode: "x"})
	if !appErr.Is(err, appErr.ContestEnded) {
		t.Fatalf("expected contest ended, got %v", err)
	}
	if len(contests.checked) != 1 || h.countSubmissions(t) != 0 {
		t.Fatalf("rejected contest submission must not be stored")
	}

	contests.checkErr = nil
	id, err := h.engine.Submit(context.Background(), alice, SubmitRequest{ProblemID: 47, ContestID: "c1", Language: "cpp", SourceCode: "x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	sub := h.get(t, id)
	if sub.ContestID != "c1" || !sub.CreatedAt.Equal(contests.checked[1]) {
		t.Fatalf("contest submission not recorded at check time: %+v", sub)
	}

	standings, err := h.engine.GetContestStandings(context.Background(), alice, "c1")
	if err != nil || standings.ContestID != "c1" {
		t.Fatalf("standings: %+v %v", standings, err)
	}
}

func TestSubmitContestWithoutContestService(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(48, 1))
	_, err := h.engine.Submit(context.Background(), alice, SubmitRequest{ProblemID: 48, ContestID: "c1", Language: "cpp", SourceCode: "x"})
	if !appErr.Is(err, appErr.ContestNotFound) {
		t.Fatalf("expected contest not found, got %v", err)
	}
}

func TestGetSubmissionStatusCachesTerminalViews(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c, mr := newTestCache(t)
	h.rebuild(t, Config{StatusRepo: repository.NewStatusRepository(c, time.Minute, time.Minute)})
	h.problems.Put(testProblem(49, 1))
	id := h.submit(t, 49)
	ctx := context.Background()

	view, err := h.engine.GetSubmissionStatus(ctx, id)
	if err != nil || view.Status != model.StatusRunning || view.Verdict != "" {
		t.Fatalf("unexpected running view %+v %v", view, err)
	}
	if mr.Exists("judge:status:" + id) {
		t.Fatalf("non-terminal view must not be cached")
	}

	if err := h.collector.OnResult(ctx, handle(1), passing(1)); err != nil {
		t.Fatalf("on result: %v", err)
	}
	view, err = h.engine.GetSubmissionStatus(ctx, id)
	if err != nil || view.Verdict != model.VerdictAccepted || view.Score != 100 {
		t.Fatalf("unexpected final view %+v %v", view, err)
	}
	if !mr.Exists("judge:status:" + id) {
		t.Fatalf("terminal view should be cached")
	}

	_, err = h.engine.GetSubmissionStatus(ctx, "missing")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if v, _ := mr.Get("judge:status:missing"); v != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", v)
	}
}

func TestGetSubmissionDetailVisibility(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(50, 2))
	id := h.submit(t, 50)
	ctx := context.Background()
	_ = h.collector.OnResult(ctx, handle(1), passing(1))
	_ = h.collector.OnResult(ctx, handle(2), wrong())

	detail, err := h.engine.GetSubmissionDetail(ctx, alice, id)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Verdict != model.VerdictWrongAnswer || len(detail.Executions) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	public, hidden := detail.Executions[0], detail.Executions[1]
	if public.Input != "in1" || public.Stdout != "out1\n" || public.Verdict != model.VerdictAccepted {
		t.Fatalf("public testcase should expose data: %+v", public)
	}
	if hidden.Input != "" || hidden.Expected != "" || hidden.Stdout != "" || hidden.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("hidden testcase leaked data: %+v", hidden)
	}

	if _, err := h.engine.GetSubmissionDetail(ctx, auth.Principal{UserID: 2}, id); !appErr.Is(err, appErr.SubmissionAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if _, err := h.engine.GetSubmissionDetail(ctx, auth.Principal{UserID: 9, Role: auth.RoleAdmin}, id); err != nil {
		t.Fatalf("admin should read detail: %v", err)
	}
	if _, err := h.engine.GetSubmissionDetail(ctx, alice, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
