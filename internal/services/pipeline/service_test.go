package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/db/repository"
	"github.com/cozy-creator/lineage-server/internal/services/filestorage"
	"github.com/cozy-creator/lineage-server/internal/services/transform"
	"github.com/cozy-creator/lineage-server/internal/types"
	"github.com/cozy-creator/lineage-server/internal/utils/imageutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUser = "user-1"

// stubTransformer validates like the real client and then returns a fixed
// image, optionally failing the first calls.
type stubTransformer struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	params []map[string]any
	inputs [][]byte
}

func (s *stubTransformer) Transform(_ context.Context, input []byte, _ string, operation string, parameters map[string]any) (*transform.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := transform.ParseRequest(operation, parameters); err != nil {
		return nil, err
	}

	s.calls++
	s.params = append(s.params, parameters)
	s.inputs = append(s.inputs, input)
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}

	return &transform.Result{Image: testPNG(4, 4), MimeType: "image/png", RequestID: "req"}, nil
}

type fixture struct {
	service *Service
	repo    *repository.MemoryLineageRepository
	storage *filestorage.LocalFileStorage
	stub    *stubTransformer
}

func newFixture(t *testing.T, policy transform.RetryPolicy, opts ...Option) *fixture {
	t.Helper()

	storage, err := filestorage.NewLocalFileStorage(t.TempDir(), "http://localhost:8881", zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewMemoryLineageRepository()
	stub := &stubTransformer{}
	service := NewService(repo, storage, transform.WithRetry(stub, policy, zap.NewNop()), zap.NewNop(), opts...)

	return &fixture{service: service, repo: repo, storage: storage, stub: stub}
}

func fastPolicy() transform.RetryPolicy {
	return transform.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}

	return buf.Bytes()
}

func (f *fixture) upload(t *testing.T, name string) *models.Pipeline {
	t.Helper()

	pipeline, err := f.service.Upload(context.Background(), testUser, UploadFile{Name: name, Content: testPNG(8, 6)}, UploadOptions{})
	require.NoError(t, err)
	return pipeline
}

func TestUpload(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()

	pipeline := f.upload(t, "My Cat (1).png")
	assert.Equal(t, 8, pipeline.Width)
	assert.Equal(t, 6, pipeline.Height)
	assert.Equal(t, "image/png", pipeline.MimeType)
	assert.Equal(t, "My Cat (1).png", pipeline.OriginalName)
	assert.Equal(t, pipeline.ID+"_My-Cat-1.png", pipeline.StorageName)
	assert.NotEmpty(t, pipeline.URL)

	parts, err := models.ParseStorageName(pipeline.StorageName)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ID, parts.ImageID)

	exists, err := f.storage.Exists(ctx, pipeline.StorageName)
	require.NoError(t, err)
	assert.True(t, exists)

	// Undecodable content still uploads, with unknown dimensions.
	other, err := f.service.Upload(ctx, testUser, UploadFile{Name: "notes.bin", Content: []byte("not an image")}, UploadOptions{})
	require.NoError(t, err)
	assert.Zero(t, other.Width)
	assert.Zero(t, other.Height)

	_, err = f.service.Upload(ctx, "", UploadFile{Name: "a.png", Content: testPNG(1, 1)}, UploadOptions{})
	assert.True(t, types.IsKind(err, types.KindUnauthorized))

	_, err = f.service.Upload(ctx, testUser, UploadFile{Name: "empty.png"}, UploadOptions{})
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestUploadMany_PartialSuccess(t *testing.T) {
	f := newFixture(t, fastPolicy())

	pipelines, err := f.service.UploadMany(context.Background(), testUser, []UploadFile{
		{Name: "a.png", Content: testPNG(2, 2)},
		{Name: "broken.png"},
		{Name: "c.png", Content: testPNG(2, 2)},
	}, UploadOptions{Tags: []string{"batch"}})
	require.NoError(t, err)

	require.Len(t, pipelines, 2)
	assert.Equal(t, "a.png", pipelines[0].OriginalName)
	assert.Equal(t, "c.png", pipelines[1].OriginalName)
	assert.Equal(t, []string{"batch"}, pipelines[0].Tags)
	assert.Equal(t, 2, f.repo.Len())

	_, err = f.service.UploadMany(context.Background(), testUser, []UploadFile{{Name: "broken.png"}}, UploadOptions{})
	assert.Error(t, err)
}

func TestProcess_AngleLineageScenario(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()
	original := f.upload(t, "cat.png")

	first, err := f.service.Process(ctx, testUser, original.ID, ProcessRequest{
		Operation: "nano-banana-edit",
		Angles:    []float64{90, 270},
	})
	require.NoError(t, err)

	assert.Equal(t, 90.0, first.Parameters["angle"])
	assert.Equal(t, "right side profile view of the subject", first.Parameters["prompt"])
	assert.Equal(t, original.ID, first.SourceImageID)
	assert.Empty(t, first.SourceProcessedVersionID)
	assert.Equal(t, "Nano Banana", first.AIModel)
	assert.Equal(t, "cat_Nano-Banana_90deg.png", first.FileName)
	assert.Equal(t, models.VersionStorageName(original.ID, first.ID, "cat_Nano-Banana_90deg", ".png"), first.StorageName)
	assert.Equal(t, 1, f.stub.calls)

	second, err := f.service.Process(ctx, testUser, original.ID, ProcessRequest{
		Operation:       "nano-banana-edit",
		Angles:          []float64{180},
		CustomPrompt:    "keep the lighting",
		SourceVersionID: first.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.SourceProcessedVersionID)
	assert.Empty(t, second.SourceImageID)
	assert.Equal(t, "back view of the subject, facing away from the camera, keep the lighting", second.Parameters["prompt"])

	pipeline, err := f.service.Get(ctx, testUser, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pipeline.ProcessedVersionCount)

	tree := BuildTree(pipeline)
	require.Len(t, tree.Levels, 2)
	assert.Equal(t, 0, tree.Levels[0].Level)
	assert.Equal(t, original.ID, tree.Levels[0].Source)
	assert.Equal(t, first.ID, tree.Levels[0].Children[0].ID)
	assert.Equal(t, 1, tree.Levels[1].Level)
	assert.Equal(t, first.ID, tree.Levels[1].Source)
	assert.Equal(t, second.ID, tree.Levels[1].Children[0].ID)
}

func TestProcess_CustomPromptAndMissingPrompt(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()
	original := f.upload(t, "dog.png")

	v, err := f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "flux-kontext", CustomPrompt: "add a hat"})
	require.NoError(t, err)
	assert.Equal(t, "add a hat", v.Parameters["prompt"])
	assert.NotContains(t, v.Parameters, "angle")
	assert.Equal(t, "dog_Flux-Kontext.png", v.FileName)

	// Without angles or a prompt the request goes through and the
	// operation's own check rejects it.
	_, err = f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "flux-kontext"})
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.Equal(t, http.StatusBadRequest, types.StatusCode(err))

	_, err = f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "warp-drive"})
	assert.True(t, types.IsKind(err, types.KindUnsupportedOperation))

	// Upscalers need no prompt.
	_, err = f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	assert.NoError(t, err)
}

func TestProcess_NotFound(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()
	original := f.upload(t, "cat.png")

	_, err := f.service.Process(ctx, testUser, "missing", ProcessRequest{Operation: "esrgan-upscale"})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	_, err = f.service.Process(ctx, "someone-else", original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	_, err = f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale", SourceVersionID: uuid.NewString()})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	assert.Zero(t, f.stub.calls)
}

func TestProcess_RetriesAndTimesTheWholeCall(t *testing.T) {
	f := newFixture(t, transform.RetryPolicy{MaxAttempts: 3, BaseDelay: 25 * time.Millisecond})
	f.stub.errs = []error{
		errors.New("connection reset by peer"),
		&transform.APIError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"},
	}
	original := f.upload(t, "cat.png")

	v, err := f.service.Process(context.Background(), testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	require.NoError(t, err)

	assert.Equal(t, 3, f.stub.calls)
	// 25ms + 50ms of backoff between the three attempts.
	assert.GreaterOrEqual(t, v.ProcessingTimeMs, int64(75))
}

func TestProcess_ForbiddenFailsImmediately(t *testing.T) {
	f := newFixture(t, transform.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second})
	f.stub.errs = []error{&transform.APIError{StatusCode: http.StatusForbidden, Message: "Forbidden"}}
	original := f.upload(t, "cat.png")

	started := time.Now()
	_, err := f.service.Process(context.Background(), testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	require.Error(t, err)

	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, 1, f.stub.calls)
	assert.True(t, types.IsKind(err, types.KindProcessingFailed))
	assert.Contains(t, err.Error(), "likely causes")

	var apiErr *transform.APIError
	assert.ErrorAs(t, err, &apiErr)

	pipeline, err := f.service.Get(context.Background(), testUser, original.ID)
	require.NoError(t, err)
	assert.Empty(t, pipeline.Versions)
}

func TestProcess_TimeBoxed(t *testing.T) {
	f := newFixture(t, transform.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, WithTransformTimeout(50*time.Millisecond))
	f.stub.errs = []error{errors.New("transient"), errors.New("transient")}
	original := f.upload(t, "cat.png")

	started := time.Now()
	_, err := f.service.Process(context.Background(), testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	require.Error(t, err)
	assert.Less(t, time.Since(started), 900*time.Millisecond)
	assert.True(t, types.IsKind(err, types.KindProcessingFailed))
}

func TestDelete_RemovesBlobsAndRecord(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()
	original := f.upload(t, "cat.png")

	var names []string
	for i := 0; i < 3; i++ {
		v, err := f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
		require.NoError(t, err)
		names = append(names, v.StorageName)
	}
	names = append(names, original.StorageName)

	require.NoError(t, f.service.Delete(ctx, testUser, original.ID))

	for _, name := range names {
		exists, err := f.storage.Exists(ctx, name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}

	_, err := f.service.Get(ctx, testUser, original.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	got, err := f.repo.Get(ctx, testUser, original.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteVersion(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()
	original := f.upload(t, "cat.png")

	v, err := f.service.Process(ctx, testUser, original.ID, ProcessRequest{Operation: "esrgan-upscale"})
	require.NoError(t, err)

	// A blob that is already gone does not block deleting the record.
	f.storage.Delete(ctx, v.StorageName)
	require.NoError(t, f.service.DeleteVersion(ctx, testUser, original.ID, v.ID))

	err = f.service.DeleteVersion(ctx, testUser, original.ID, v.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	err = f.service.DeleteVersion(ctx, "intruder", original.ID, v.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	pipeline, err := f.service.Get(ctx, testUser, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pipeline.ProcessedVersionCount)
}

func TestGet_RegeneratesMissingURL(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx := context.Background()

	_, err := f.repo.CreateOriginal(ctx, testUser, &models.Pipeline{ID: "legacy", OriginalName: "old.png", StorageName: "legacy_old.png", MimeType: "image/png"})
	require.NoError(t, err)

	first, err := f.service.Get(ctx, testUser, "legacy")
	require.NoError(t, err)
	second, err := f.service.Get(ctx, testUser, "legacy")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8881/file/legacy_old.png", first.URL)
	assert.Equal(t, first.URL, second.URL)
}

func TestProcess_DownscalesLargeSource(t *testing.T) {
	f := newFixture(t, fastPolicy(), WithMaxInputSide(4))
	pipeline := f.upload(t, "wide.png")

	_, err := f.service.Process(context.Background(), testUser, pipeline.ID, ProcessRequest{
		Operation: "flux-kontext",
		Angles:    []float64{90},
	})
	require.NoError(t, err)

	require.Len(t, f.stub.inputs, 1)
	width, height, err := imageutil.Dimensions(f.stub.inputs[0])
	require.NoError(t, err)
	assert.Equal(t, 4, width)
	assert.Equal(t, 3, height)

	// The stored original is untouched.
	original, err := f.storage.Read(context.Background(), pipeline.StorageName)
	require.NoError(t, err)
	width, _, err = imageutil.Dimensions(original)
	require.NoError(t, err)
	assert.Equal(t, 8, width)
}

func TestProcess_FileNameUsesAngleParameter(t *testing.T) {
	f := newFixture(t, fastPolicy())
	original := f.upload(t, "dog.png")

	v, err := f.service.Process(context.Background(), testUser, original.ID, ProcessRequest{
		Operation:    "flux-kontext",
		Parameters:   map[string]any{"angle": 45},
		CustomPrompt: "turn a little",
	})
	require.NoError(t, err)
	assert.Equal(t, "turn a little", v.Parameters["prompt"])
	assert.Equal(t, "dog_Flux-Kontext_45deg.png", v.FileName)
}
