package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cachex "codelens/internal/common/cache"
	"codelens/internal/runner/model"
	appErr "codelens/pkg/errors"

	"github.com/zeromicro/go-zero/core/logx"
)

const statusKeyPrefix = "runner:batch:"

const defaultStatusTTL = 30 * time.Minute

// StatusRepository persists batch progress snapshots so that the status
// endpoint can answer without touching the running batch.
type StatusRepository struct {
	cache cachex.Cache
	ttl   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cachex.Cache, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusRepository{cache: cacheClient, ttl: ttl}
}

// Get returns the status snapshot for a batch.
func (r *StatusRepository) Get(ctx context.Context, batchID string) (model.BatchStatus, error) {
	logger := logx.WithContext(ctx)
	if batchID == "" {
		logger.Error("batch_id is required")
		return model.BatchStatus{}, appErr.ValidationError("batch_id", "required")
	}
	if r.cache == nil {
		return model.BatchStatus{}, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured")
	}
	raw, err := r.cache.Get(ctx, statusKeyPrefix+batchID)
	if err != nil {
		logger.Errorf("get batch status failed: %v", err)
		return model.BatchStatus{}, appErr.Wrapf(err, appErr.CacheError, "get batch status failed")
	}
	if raw == "" {
		return model.BatchStatus{}, appErr.New(appErr.BatchNotFound).WithMessage("batch status not found")
	}
	var status model.BatchStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		logger.Errorf("decode batch status failed: %v", err)
		return model.BatchStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode batch status failed")
	}
	return status, nil
}

// Save persists a status snapshot. Later snapshots simply overwrite
// earlier ones; the batch id is the only key.
func (r *StatusRepository) Save(ctx context.Context, status model.BatchStatus) error {
	logger := logx.WithContext(ctx)
	if status.BatchID == "" {
		logger.Error("batch_id is required")
		return appErr.ValidationError("batch_id", "required")
	}
	if r.cache == nil {
		return nil
	}
	status.UpdatedAt = time.Now().Unix()
	data, err := json.Marshal(status)
	if err != nil {
		logger.Errorf("marshal batch status failed: %v", err)
		return fmt.Errorf("marshal batch status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.BatchID, string(data), r.ttl); err != nil {
		logger.Errorf("store batch status failed: %v", err)
		return appErr.Wrapf(err, appErr.CacheError, "store batch status failed")
	}
	return nil
}
