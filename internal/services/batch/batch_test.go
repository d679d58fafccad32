package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/services/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeProcessor struct {
	mu     sync.Mutex
	fail   map[float64]error
	seen   []pipeline.ProcessRequest
	starts []time.Time
}

func (f *fakeProcessor) Process(_ context.Context, _, imageID string, req pipeline.ProcessRequest) (*models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen = append(f.seen, req)
	f.starts = append(f.starts, time.Now())
	if err := f.fail[req.Angles[0]]; err != nil {
		return nil, err
	}

	return &models.Version{ID: imageID, Parameters: map[string]any{"angle": req.Angles[0]}}, nil
}

func TestProcessAngles_PartialFailure(t *testing.T) {
	boom := errors.New("upstream down")
	processor := &fakeProcessor{fail: map[float64]error{90: boom}}
	runner := NewRunner(processor, 10*time.Millisecond, nil)

	versions, err := runner.ProcessAngles(context.Background(), "user", "img", pipeline.ProcessRequest{
		Operation:    "nano-banana-edit",
		CustomPrompt: "studio light",
		Angles:       []float64{1, 2, 3},
	}, []float64{0, 90, 180})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, multierr.Errors(err), 1)

	failures := Failures(err)
	require.Len(t, failures, 1)
	assert.Equal(t, 90.0, failures[0].Angle)

	require.Len(t, versions, 2)
	assert.Equal(t, 0.0, versions[0].Parameters["angle"])
	assert.Equal(t, 180.0, versions[1].Parameters["angle"])

	require.Len(t, processor.seen, 3)
	for i, req := range processor.seen {
		assert.Len(t, req.Angles, 1)
		assert.Equal(t, "studio light", req.CustomPrompt)
		if i > 0 {
			assert.GreaterOrEqual(t, processor.starts[i].Sub(processor.starts[i-1]), 10*time.Millisecond)
		}
	}
}

func TestProcessAngles_AllSucceed(t *testing.T) {
	runner := NewRunner(&fakeProcessor{}, 0, nil)

	versions, err := runner.ProcessAngles(context.Background(), "user", "img", pipeline.ProcessRequest{Operation: "seedream-edit"}, []float64{45, 315})
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Empty(t, Failures(err))
}

func TestProcessAngles_StopsOnCancel(t *testing.T) {
	processor := &fakeProcessor{}
	runner := NewRunner(processor, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	versions, err := runner.ProcessAngles(ctx, "user", "img", pipeline.ProcessRequest{Operation: "seedream-edit"}, []float64{0, 90})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, versions, 1)
	assert.Len(t, processor.seen, 1)
}
