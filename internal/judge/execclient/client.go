// Package execclient talks to the external sandboxed execution service.
package execclient

import (
	"context"
	"errors"
	"fmt"

	"ojcore/internal/judge/model"
)

// ExecutionRequest is one (source, stdin, limits) unit of work.
type ExecutionRequest struct {
	Source           string
	Language         string
	Stdin            string
	TimeLimitSeconds float64
	MemoryLimitMB    int64
	// CallbackURL, when set, asks the service to push the result instead of waiting to be polled.
	CallbackURL string
}

// Client is the typed interface to the execution service.
type Client interface {
	// Submit queues one execution and returns its handle.
	// A request the service refuses outright is reported as *ImmediateFailure.
	Submit(ctx context.Context, req ExecutionRequest) (string, error)

	// Result fetches the outcome for handle. pending is true while the service is still working.
	Result(ctx context.Context, handle string) (out model.Outcome, pending bool, err error)

	// Supports reports whether language can be executed.
	Supports(language string) bool
}

// ImmediateFailure is a synchronous rejection of an execution request.
type ImmediateFailure struct {
	Reason string
	// Compile marks rejections caused by the source or language, which grade as COMPILATION_ERROR.
	Compile bool
	Status  int
}

func (f *ImmediateFailure) Error() string {
	if f.Status > 0 {
		return fmt.Sprintf("execution request rejected (%d): %s", f.Status, f.Reason)
	}
	return "execution request rejected: " + f.Reason
}

// FailureVerdict maps a dispatch error to the verdict the submission finishes with.
func FailureVerdict(err error) model.Verdict {
	var f *ImmediateFailure
	if errors.As(err, &f) && f.Compile {
		return model.VerdictCompilationError
	}
	return model.VerdictRuntimeError
}
