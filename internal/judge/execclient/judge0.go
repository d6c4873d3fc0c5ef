package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ojcore/internal/judge/model"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const resultFields = "token,status,stdout,stderr,compile_output,message,time,memory,exit_code"

// Judge0 status ids.
const (
	judge0InQueue           = 1
	judge0Processing        = 2
	judge0Accepted          = 3
	judge0WrongAnswer       = 4
	judge0TimeLimitExceeded = 5
	judge0CompilationError  = 6
	judge0RuntimeNZEC       = 11
	judge0InternalError     = 13
	judge0ExecFormatError   = 14
)

// Judge0Config configures the Judge0-compatible adapter.
type Judge0Config struct {
	BaseURL   string
	AuthToken string
	// Languages maps declared language names to Judge0 language ids.
	Languages map[string]int

	RequestTimeout time.Duration
	// MaxRetries bounds retries of 503 (queue full) responses on submit.
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Judge0Client implements Client over the Judge0 REST API.
type Judge0Client struct {
	cfg     Judge0Config
	baseURL string
	http    *http.Client
}

// NewJudge0Client validates cfg and creates the adapter.
func NewJudge0Client(cfg Judge0Config, httpClient *http.Client) (*Judge0Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("judge0 base url is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("judge0 language table is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Judge0Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// Supports reports whether language has a Judge0 id.
func (c *Judge0Client) Supports(language string) bool {
	_, ok := c.cfg.Languages[language]
	return ok
}

type judge0SubmitRequest struct {
	SourceCode   string  `json:"source_code"`
	LanguageID   int     `json:"language_id"`
	Stdin        string  `json:"stdin,omitempty"`
	CPUTimeLimit float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit  int64   `json:"memory_limit,omitempty"`
	CallbackURL  string  `json:"callback_url,omitempty"`
}

type judge0Token struct {
	Token string `json:"token"`
}

type judge0Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Judge0Submission is the result document Judge0 returns on GET and sends to callbacks.
type Judge0Submission struct {
	Token         string       `json:"token"`
	Status        judge0Status `json:"status"`
	Stdout        *string      `json:"stdout"`
	Stderr        *string      `json:"stderr"`
	CompileOutput *string      `json:"compile_output"`
	Message       *string      `json:"message"`
	Time          *string      `json:"time"`
	Memory        *int64       `json:"memory"`
	ExitCode      *int         `json:"exit_code"`
}

// Submit posts one execution without waiting for it.
func (c *Judge0Client) Submit(ctx context.Context, req ExecutionRequest) (string, error) {
	langID, ok := c.cfg.Languages[req.Language]
	if !ok {
		return "", &ImmediateFailure{Reason: "unsupported language " + req.Language, Compile: true}
	}
	body, err := json.Marshal(judge0SubmitRequest{
		SourceCode:   req.Source,
		LanguageID:   langID,
		Stdin:        req.Stdin,
		CPUTimeLimit: req.TimeLimitSeconds,
		MemoryLimit:  req.MemoryLimitMB * 1024,
		CallbackURL:  req.CallbackURL,
	})
	if err != nil {
		return "", &ImmediateFailure{Reason: "encode request: " + err.Error()}
	}

	endpoint := c.baseURL + "/submissions?base64_encoded=false&wait=false"
	for attempt := 0; ; attempt++ {
		status, payload, err := c.do(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return "", &ImmediateFailure{Reason: err.Error()}
		}
		switch {
		case status == http.StatusCreated || status == http.StatusOK:
			var tok judge0Token
			if err := json.Unmarshal(payload, &tok); err != nil || tok.Token == "" {
				return "", &ImmediateFailure{Reason: "malformed submit response", Status: status}
			}
			return tok.Token, nil
		case status == http.StatusServiceUnavailable && attempt < c.cfg.MaxRetries:
			delay := computeBackoff(attempt, c.cfg.RetryBackoff, c.cfg.MaxBackoff)
			logger.Warn(ctx, "execution service queue full, retrying",
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			if !sleepCtx(ctx, delay) {
				return "", ctx.Err()
			}
		case status == http.StatusUnprocessableEntity:
			reason := rejectionReason(payload)
			return "", &ImmediateFailure{Reason: reason, Compile: isCompileRejection(reason), Status: status}
		default:
			return "", &ImmediateFailure{Reason: rejectionReason(payload), Status: status}
		}
	}
}

// Result fetches one submission by token.
func (c *Judge0Client) Result(ctx context.Context, handle string) (model.Outcome, bool, error) {
	endpoint := fmt.Sprintf("%s/submissions/%s?base64_encoded=false&fields=%s",
		c.baseURL, url.PathEscape(handle), resultFields)
	status, payload, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Outcome{}, false, err
	}
	if status != http.StatusOK {
		return model.Outcome{}, false, fmt.Errorf("judge0 get %s: status %d: %s", handle, status, rejectionReason(payload))
	}
	var sub Judge0Submission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return model.Outcome{}, false, fmt.Errorf("decode judge0 result: %w", err)
	}
	out, pending := sub.Outcome()
	return out, pending, nil
}

// Outcome converts a Judge0 result document. pending is true for queued or running work.
func (s Judge0Submission) Outcome() (model.Outcome, bool) {
	if s.Status.ID == judge0InQueue || s.Status.ID == judge0Processing {
		return model.Outcome{}, true
	}
	out := model.Outcome{
		Stdout:        deref(s.Stdout),
		Stderr:        deref(s.Stderr),
		CompileOutput: deref(s.CompileOutput),
		Description:   s.Status.Description,
	}
	if s.Time != nil {
		if secs, err := strconv.ParseFloat(*s.Time, 64); err == nil {
			out.TimeMs = int64(math.Round(secs * 1000))
		}
	}
	if s.Memory != nil {
		out.MemoryKB = *s.Memory
	}
	if s.ExitCode != nil {
		out.ExitCode = *s.ExitCode
	}

	switch id := s.Status.ID; {
	case id == judge0Accepted, id == judge0WrongAnswer:
		// No expected output is sent, so both mean the program exited; comparison happens locally.
		out.Kind = model.OutcomeCompleted
	case id == judge0TimeLimitExceeded:
		out.Kind = model.OutcomeTimeLimit
	case id == judge0CompilationError:
		out.Kind = model.OutcomeCompileError
	case id == judge0RuntimeNZEC:
		out.Kind = model.OutcomeCompleted
		if out.ExitCode == 0 {
			out.ExitCode = 1
		}
	case id > judge0CompilationError && id < judge0InternalError:
		out.Kind = model.OutcomeRuntimeError
	default:
		out.Kind = model.OutcomeInternalError
		if msg := deref(s.Message); msg != "" {
			out.Description = msg
		}
	}
	return out, false
}

func (c *Judge0Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

// rejectionReason flattens Judge0's error bodies ({"error": ...} or {"field": ["msg"]}).
func rejectionReason(payload []byte) string {
	var generic map[string]interface{}
	if err := json.Unmarshal(payload, &generic); err != nil || len(generic) == 0 {
		if s := strings.TrimSpace(string(payload)); s != "" {
			return s
		}
		return "no reason given"
	}
	if msg, ok := generic["error"].(string); ok {
		return msg
	}
	parts := make([]string, 0, len(generic))
	for field, v := range generic {
		switch val := v.(type) {
		case []interface{}:
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%s %v", field, item))
			}
		default:
			parts = append(parts, fmt.Sprintf("%s %v", field, val))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func isCompileRejection(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "language") || strings.Contains(r, "source_code")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Client = (*Judge0Client)(nil)
