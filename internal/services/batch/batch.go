// Package batch runs one transform per requested angle, one after another.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/services/pipeline"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Processor interface {
	Process(ctx context.Context, userID, imageID string, req pipeline.ProcessRequest) (*models.Version, error)
}

type Runner struct {
	processor Processor
	delay     time.Duration
	logger    *zap.Logger
}

func NewRunner(processor Processor, delay time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{processor: processor, delay: delay, logger: logger}
}

// AngleFailure ties a failed angle to its cause inside the aggregate error.
type AngleFailure struct {
	Angle float64
	Err   error
}

func (e *AngleFailure) Error() string {
	return fmt.Sprintf("angle %g: %v", e.Angle, e.Err)
}

func (e *AngleFailure) Unwrap() error {
	return e.Err
}

// ProcessAngles issues one Process per angle with a pause between calls
// so the upstream rate limit is not hit. A failed angle does not stop the
// rest. The returned error aggregates every failure and is nil when all
// angles succeeded.
func (r *Runner) ProcessAngles(ctx context.Context, userID, imageID string, base pipeline.ProcessRequest, angles []float64) ([]*models.Version, error) {
	versions := make([]*models.Version, 0, len(angles))
	var errs error

	for i, angle := range angles {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return versions, multierr.Append(errs, ctx.Err())
			case <-time.After(r.delay):
			}
		}

		req := base
		req.Angles = []float64{angle}

		version, err := r.processor.Process(ctx, userID, imageID, req)
		if err != nil {
			r.logger.Warn("angle failed, continuing",
				zap.String("image_id", imageID),
				zap.Float64("angle", angle),
				zap.Error(err))
			errs = multierr.Append(errs, &AngleFailure{Angle: angle, Err: err})
			continue
		}

		versions = append(versions, version)
	}

	r.logger.Info("angle batch finished",
		zap.String("image_id", imageID),
		zap.Int("requested", len(angles)),
		zap.Int("succeeded", len(versions)))

	return versions, errs
}

// Failures splits an aggregate error from ProcessAngles back into its parts.
func Failures(err error) []*AngleFailure {
	var out []*AngleFailure
	for _, e := range multierr.Errors(err) {
		if failure, ok := e.(*AngleFailure); ok {
			out = append(out, failure)
		}
	}

	return out
}
