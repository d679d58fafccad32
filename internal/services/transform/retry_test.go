package transform

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTransformer struct {
	errs  []error
	calls int
}

func (s *stubTransformer) Transform(context.Context, []byte, string, string, map[string]any) (*Result, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}

	return &Result{Image: []byte("ok"), MimeType: "image/png"}, nil
}

func TestWithRetry_RecoversFromTransientErrors(t *testing.T) {
	stub := &stubTransformer{errs: []error{errors.New("connection reset"), &APIError{StatusCode: 503, Message: "busy"}}}
	retrying := WithRetry(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, zap.NewNop())

	started := time.Now()
	result, err := retrying.Transform(context.Background(), nil, "", "esrgan-upscale", nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("ok"), result.Image)
	assert.Equal(t, 3, stub.calls)
	// 10ms then 20ms
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	stub := &stubTransformer{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	retrying := WithRetry(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())

	_, err := retrying.Transform(context.Background(), nil, "", "esrgan-upscale", nil)
	require.Error(t, err)

	assert.Equal(t, 3, stub.calls)
	assert.True(t, types.IsKind(err, types.KindExternalService))
	assert.Equal(t, http.StatusBadGateway, types.StatusCode(err))
}

func TestWithRetry_ClientErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		stub := &stubTransformer{errs: []error{&APIError{StatusCode: status, Message: "no"}}}
		retrying := WithRetry(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, zap.NewNop())

		started := time.Now()
		_, err := retrying.Transform(context.Background(), nil, "", "esrgan-upscale", nil)
		require.Error(t, err)

		assert.Equal(t, 1, stub.calls, "status %d", status)
		assert.Less(t, time.Since(started), 500*time.Millisecond)

		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	}

	stub := &stubTransformer{errs: []error{errors.New("403 Forbidden by upstream proxy")}}
	_, err := WithRetry(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, nil).
		Transform(context.Background(), nil, "", "esrgan-upscale", nil)
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestWithRetry_TypedErrorsPassThrough(t *testing.T) {
	stub := &stubTransformer{errs: []error{types.NewValidationError("prompt is required")}}
	_, err := WithRetry(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, nil).
		Transform(context.Background(), nil, "", "nano-banana-edit", nil)

	assert.Equal(t, 1, stub.calls)
	assert.True(t, types.IsKind(err, types.KindValidation))
}
