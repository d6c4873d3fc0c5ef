package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"ojcore/internal/common/mq"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

func newTestSigner(t *testing.T) *CallbackSigner {
	t.Helper()
	signer, err := NewCallbackSigner("http://engine.local/api/v1/callbacks/executions", "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestCallbackTokenRoundTrip(t *testing.T) {
	t.Parallel()
	signer := newTestSigner(t)
	token, err := signer.Sign("sub-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	subject, err := signer.Verify(token)
	if err != nil || subject != "sub-1" {
		t.Fatalf("verify: %q %v", subject, err)
	}

	u, err := signer.URL("sub-1")
	if err != nil || !strings.HasPrefix(u, "http://engine.local/api/v1/callbacks/executions?token=") {
		t.Fatalf("unexpected url %q %v", u, err)
	}
}

func TestCallbackTokenRejectsTampering(t *testing.T) {
	t.Parallel()
	signer := newTestSigner(t)
	token, _ := signer.Sign("sub-1")

	other, _ := NewCallbackSigner("http://engine.local/cb", "another", time.Hour)
	cases := map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"truncated":    token[:len(token)-4],
		"wrong secret": mustSign(t, other, "sub-1"),
	}
	for name, tok := range cases {
		if _, err := signer.Verify(tok); !appErr.Is(err, appErr.CallbackTokenInvalid) {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
}

func TestCallbackTokenExpires(t *testing.T) {
	t.Parallel()
	signer := newTestSigner(t)
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token := mustSign(t, signer, "sub-1")
	signer.now = time.Now
	if _, err := signer.Verify(token); !appErr.Is(err, appErr.CallbackTokenInvalid) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func mustSign(t *testing.T, s *CallbackSigner, id string) string {
	t.Helper()
	token, err := s.Sign(id)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestIntakeDeliversDirectly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(60, 1))
	id := h.submit(t, 60)
	signer := newTestSigner(t)
	intake := NewResultIntake(signer, h.collector, nil, "")

	ctx := context.Background()
	if err := intake.Accept(ctx, "bad", handle(1), passing(1)); !appErr.Is(err, appErr.CallbackTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if err := intake.Accept(ctx, mustSign(t, signer, id), "", passing(1)); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected missing handle error, got %v", err)
	}
	if err := intake.Accept(ctx, mustSign(t, signer, id), handle(1), passing(1)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sub := h.get(t, id); sub.Verdict != model.VerdictAccepted {
		t.Fatalf("unexpected verdict %s", sub.Verdict)
	}
}

func TestIntakeThroughQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.problems.Put(testProblem(61, 2))
	id := h.submit(t, 61)
	signer := newTestSigner(t)
	queue := mq.NewMemoryQueue()
	intake := NewResultIntake(signer, h.collector, queue, "judge.results")
	ctx := context.Background()
	if err := intake.Subscribe(ctx, queue, &mq.SubscribeOptions{MaxRetries: 1, RetryDelay: time.Millisecond}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var seen []*mq.Message
	_ = queue.SubscribeWithOptions(ctx, "judge.results", func(ctx context.Context, m *mq.Message) error {
		seen = append(seen, m)
		return nil
	}, nil)

	token := mustSign(t, signer, id)
	if err := intake.Accept(ctx, token, handle(1), passing(1)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := intake.Accept(ctx, token, handle(2), wrong()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	sub := h.get(t, id)
	if sub.Status != model.StatusDone || sub.Verdict != model.VerdictWrongAnswer || sub.Score != 50 {
		t.Fatalf("unexpected state %s %s %v", sub.Status, sub.Verdict, sub.Score)
	}
	if len(seen) != 2 || seen[0].ID != handle(1) {
		t.Fatalf("unexpected messages %+v", seen)
	}
	if v, ok := seen[0].GetHeader("submission_id"); !ok || v != id {
		t.Fatalf("missing submission header")
	}
}

func TestIntakeRejectsMalformedMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	intake := NewResultIntake(newTestSigner(t), h.collector, nil, "")
	if err := intake.HandleResultMessage(context.Background(), mq.NewMessage([]byte("{"))); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if err := intake.HandleResultMessage(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestIntakeDisabledWithoutSigner(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	intake := NewResultIntake(nil, h.collector, nil, "")
	if err := intake.Accept(context.Background(), "x", "h", passing(1)); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
