package transform

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func RetryPolicyFromConfig(cfg *config.TransformConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
}

type retryingTransformer struct {
	next   Transformer
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry retries the whole call to next on transient failures with a
// doubling delay. Client errors (400, 401, 403) and input errors are
// returned immediately.
func WithRetry(next Transformer, policy RetryPolicy, logger *zap.Logger) Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = config.DefaultTransformAttempts
	}

	return &retryingTransformer{next: next, policy: policy, logger: logger}
}

func (t *retryingTransformer) Transform(ctx context.Context, image []byte, mimeType, operation string, parameters map[string]any) (*Result, error) {
	var (
		result  *Result
		attempt int
	)

	call := func() error {
		attempt++
		res, err := t.next.Transform(ctx, image, mimeType, operation, parameters)
		if err == nil {
			result = res
			return nil
		}

		if !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Warn("ai transform failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", t.policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(call, exponential(ctx, t.policy.MaxAttempts, t.policy.BaseDelay), notify)
	if err == nil {
		return result, nil
	}

	if _, typed := types.KindOf(err); typed {
		return nil, err
	}

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && IsClientError(err):
		return nil, types.NewExternalServiceError(http.StatusBadGateway, err, "ai endpoint rejected the request with %d", apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, types.NewExternalServiceError(http.StatusGatewayTimeout, err, "ai transform timed out after %d attempt(s)", attempt)
	default:
		return nil, types.NewExternalServiceError(http.StatusBadGateway, err, "ai transform failed after %d attempt(s)", attempt)
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrMissingAPIKey) {
		return false
	}

	switch types.StatusCode(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict:
		if _, typed := types.KindOf(err); typed {
			return false
		}
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}

	return !IsClientError(err)
}
