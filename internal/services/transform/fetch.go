package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// FetchPolicy bounds downloading the result image once the endpoint has
// answered with its URL.
type FetchPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration
}

func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		Attempts:  config.DefaultFetchAttempts,
		BaseDelay: config.DefaultFetchBaseDelay,
		Timeout:   config.DefaultFetchTimeout,
	}
}

func (c *FalClient) fetchResult(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURI(url)
	}

	policy := c.fetch
	attempt := 0
	var content []byte

	operation := func() error {
		attempt++
		data, err := c.fetchOnce(ctx, url, policy.Timeout)
		if err == nil {
			content = data
			return nil
		}

		// Timeouts and aborts fail fast; a 404 means the result is not
		// ready yet and is retried like any other transient failure.
		if isTimeout(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var statusErr *fetchStatusError
		if errors.As(err, &statusErr) && statusErr.statusCode >= 400 && statusErr.statusCode < 500 && statusErr.statusCode != http.StatusNotFound {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("result fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, exponential(ctx, policy.Attempts, policy.BaseDelay), notify); err != nil {
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		return nil, types.NewExternalServiceError(status, err, "failed to fetch result image after %d attempt(s)", attempt)
	}

	return content, nil
}

func (c *FalClient) fetchOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &fetchStatusError{url: url, statusCode: resp.StatusCode}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return nil, err
	}

	return content, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	_, encoded, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return nil, &MalformedResponseError{Body: uri}
	}

	return base64.StdEncoding.DecodeString(encoded)
}

// exponential builds a doubling backoff from base that allows attempts
// tries in total and stops when ctx is done.
func exponential(ctx context.Context, attempts int, base time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = base << 10
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
