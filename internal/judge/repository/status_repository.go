package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository caches terminal status views in Redis.
type StatusRepository struct {
	cache cache.BasicOps
	TTL   time.Duration
	// EmptyTTL caches unknown submission ids; 0 disables it.
	EmptyTTL time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl, EmptyTTL: emptyTTL}
}

// Save stores a terminal view. Non-terminal views are ignored since they change.
func (r *StatusRepository) Save(ctx context.Context, view model.StatusView) error {
	if view.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !view.Status.Terminal() {
		return nil
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+view.SubmissionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// GetOrLoad returns the cached view, falling back to load and caching the result once terminal.
// load returns a zero view for an unknown id.
func (r *StatusRepository) GetOrLoad(ctx context.Context, submissionID string, load func(context.Context) (model.StatusView, error)) (model.StatusView, error) {
	return cache.GetWithCached(ctx, r.cache, statusKeyPrefix+submissionID, cache.CacheOptions[model.StatusView]{
		TTL:       r.TTL,
		EmptyTTL:  r.EmptyTTL,
		IsEmpty:   func(v model.StatusView) bool { return v.SubmissionID == "" },
		Cacheable: func(v model.StatusView) bool { return v.Status.Terminal() },
		Marshal: func(v model.StatusView) (string, error) {
			data, err := json.Marshal(v)
			return string(data), err
		},
		Unmarshal: func(raw string) (model.StatusView, error) {
			var v model.StatusView
			err := json.Unmarshal([]byte(raw), &v)
			return v, err
		},
	}, load)
}
