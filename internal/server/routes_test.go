package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cozy-creator/lineage-server/internal/api/middleware"
	"github.com/cozy-creator/lineage-server/internal/app"
	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/services/transform"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTransformer struct {
	fail map[float64]bool
}

func (e *echoTransformer) Transform(_ context.Context, img []byte, mimeType, operation string, parameters map[string]any) (*transform.Result, error) {
	if _, err := transform.ParseRequest(operation, parameters); err != nil {
		return nil, err
	}
	if angle, ok := parameters["angle"].(float64); ok && e.fail[angle] {
		return nil, &transform.APIError{StatusCode: http.StatusForbidden, Message: "Forbidden"}
	}

	return &transform.Result{Image: img, MimeType: mimeType}, nil
}

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Environment = "test"
	cfg.AssetsDir = t.TempDir()
	cfg.LineageStore = config.LineageStoreMemory
	cfg.Batch.Delay = 0

	a, err := app.NewApp(cfg,
		app.WithFileStorage(),
		app.WithLineageStore(),
		app.WithMQ(),
		app.WithFileUploader(),
		app.WithTransformer(&echoTransformer{fail: map[float64]bool{270: true}}),
		app.WithPipelineService(),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s, err := NewServer(cfg)
	require.NoError(t, err)
	s.SetupRoutes(a)

	return s, a
}

func do(t *testing.T, s *Server, req *http.Request, out any) *httptest.ResponseRecorder {
	t.Helper()

	if req.Header.Get(middleware.UserIDHeader) == "" {
		req.Header.Set(middleware.UserIDHeader, "user-1")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}

	return rec
}

func uploadRequest(t *testing.T, names ...string) *http.Request {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	var content bytes.Buffer
	require.NoError(t, png.Encode(&content, img))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range names {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, writer.WriteField("tags", "cats, pets"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type imageResponse struct {
	ID                    string   `json:"id"`
	URL                   string   `json:"url"`
	Tags                  []string `json:"tags"`
	ProcessedVersionCount int      `json:"processedVersionCount"`
}

type versionResponse struct {
	ID                       string         `json:"id"`
	Parameters               map[string]any `json:"parameters"`
	SourceImageID            string         `json:"sourceImageId"`
	SourceProcessedVersionID string         `json:"sourceProcessedVersionId"`
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lineage_http_requests_total")
}

func TestIdentityRequired(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set(middleware.UserIDHeader, " ")

	var resp types.ErrorResponse
	rec := do(t, s, req, &resp)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, types.KindUnauthorized, resp.Kind)
}

func TestImageLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	var uploaded struct {
		Images []imageResponse `json:"images"`
	}
	rec := do(t, s, uploadRequest(t, "cat.png", "dog.png"), &uploaded)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, uploaded.Images, 2)
	assert.Equal(t, []string{"cats", "pets"}, uploaded.Images[0].Tags)
	imageID := uploaded.Images[0].ID

	// The stored blob is reachable through the file route.
	fileRec := do(t, s, httptest.NewRequest(http.MethodGet, uploaded.Images[0].URL[len("http://localhost:8881"):], nil), nil)
	assert.Equal(t, http.StatusOK, fileRec.Code)

	var first versionResponse
	rec = do(t, s, jsonRequest(t, http.MethodPost, "/api/v1/images/"+imageID+"/process", map[string]any{
		"operation": "nano-banana-edit",
		"angles":    []float64{90},
	}), &first)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 90.0, first.Parameters["angle"])
	assert.Equal(t, imageID, first.SourceImageID)

	var second versionResponse
	rec = do(t, s, jsonRequest(t, http.MethodPost, "/api/v1/images/"+imageID+"/process", map[string]any{
		"operation":       "nano-banana-edit",
		"angles":          []float64{180},
		"sourceVersionId": first.ID,
	}), &second)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, first.ID, second.SourceProcessedVersionID)

	var tree struct {
		Levels []struct {
			Source string `json:"source"`
			Level  int    `json:"level"`
		} `json:"levels"`
	}
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+imageID+"/tree", nil), &tree)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, tree.Levels, 2)
	assert.Equal(t, first.ID, tree.Levels[1].Source)
	assert.Equal(t, 1, tree.Levels[1].Level)

	var processed types.Page[versionResponse]
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/processed?limit=1", nil), &processed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, processed.Total)
	assert.Len(t, processed.Items, 1)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/processed?minProcessingTime=abc", nil), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Another user cannot see or delete it.
	other := httptest.NewRequest(http.MethodDelete, "/api/v1/images/"+imageID, nil)
	other.Header.Set(middleware.UserIDHeader, "user-2")
	rec = do(t, s, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/v1/images/"+imageID+"/versions/"+second.ID, nil), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/v1/images/"+imageID, nil), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var resp types.ErrorResponse
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+imageID, nil), &resp)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.KindNotFound, resp.Kind)

	var page types.Page[imageResponse]
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil), &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, types.DefaultPageLimit, page.Limit)
}

func TestProcessErrors(t *testing.T) {
	s, _ := newTestServer(t)

	var uploaded struct {
		Images []imageResponse `json:"images"`
	}
	do(t, s, uploadRequest(t, "cat.png"), &uploaded)
	require.Len(t, uploaded.Images, 1)
	path := "/api/v1/images/" + uploaded.Images[0].ID + "/process"

	var resp types.ErrorResponse
	rec := do(t, s, jsonRequest(t, http.MethodPost, path, map[string]any{"operation": "teleport"}), &resp)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.KindUnsupportedOperation, resp.Kind)

	rec = do(t, s, jsonRequest(t, http.MethodPost, path, map[string]any{"operation": "flux-kontext"}), &resp)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.KindValidation, resp.Kind)

	rec = do(t, s, jsonRequest(t, http.MethodPost, path, map[string]any{"operation": "flux-kontext", "angles": []float64{270}}), &resp)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, types.KindProcessingFailed, resp.Kind)

	rec = do(t, s, jsonRequest(t, http.MethodPost, "/api/v1/images/missing/process", map[string]any{"operation": "esrgan-upscale"}), &resp)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessBatch_PartialFailure(t *testing.T) {
	s, _ := newTestServer(t)

	var uploaded struct {
		Images []imageResponse `json:"images"`
	}
	do(t, s, uploadRequest(t, "cat.png"), &uploaded)
	require.Len(t, uploaded.Images, 1)

	var resp struct {
		Versions []versionResponse `json:"versions"`
		Failures []struct {
			Angle  float64 `json:"angle"`
			Status int     `json:"status"`
		} `json:"failures"`
	}
	rec := do(t, s, jsonRequest(t, http.MethodPost, "/api/v1/images/"+uploaded.Images[0].ID+"/process/batch", map[string]any{
		"operation": "seedream-edit",
		"angles":    []float64{0, 270, 180},
	}), &resp)

	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	assert.Len(t, resp.Versions, 2)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, 270.0, resp.Failures[0].Angle)
	assert.Equal(t, http.StatusBadGateway, resp.Failures[0].Status)
}

func TestAssistNotConfigured(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, jsonRequest(t, http.MethodPost, "/api/v1/prompts/assist", map[string]any{"prompt": "make it night"}), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
