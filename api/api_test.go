package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
	"github.com/khaledhikmat/asd-go/registry"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/inference"
	"github.com/khaledhikmat/asd-go/service/storage"
)

type stubSampler struct {
	frames []pipeline.Frame
	err    error
}

func (s stubSampler) Sample(_ context.Context, _ []byte, _ int) ([]pipeline.Frame, error) {
	return s.frames, s.err
}

type testEnv struct {
	server *Server
	infer  *inference.FakeService
	chat   *chat.FakeService
	stats  chan interface{}
	errs   chan interface{}
}

func newTestEnv(t *testing.T, sampler pipeline.Sampler) *testEnv {
	t.Helper()

	s := config.Defaults()
	s.ChatAPIKey = "test"
	s.ModelsFolder = t.TempDir()
	s.ArtifactURLTemplate = ""
	s.LogFolder = ""
	for _, spec := range s.Models {
		require.NoError(t, os.WriteFile(filepath.Join(s.ModelsFolder, spec.File), []byte("model"), 0644))
	}
	cfgSvc := config.New(s)

	infer := inference.NewFake(map[string][]float32{
		"vgg":             {0.2, 0.8},
		"inception":       {0.9, 0.1},
		"efficientnet_b0": {0.7},
		"efficientnet_b7": {0.3},
	})
	loader := &registry.Loader{
		StorageSvc:   storage.NewRemote(cfgSvc),
		InferenceSvc: infer,
		Layers:       registry.DefaultLayers(),
	}
	policy, err := registry.New(context.Background(), cfgSvc, loader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = policy.Close() })

	predictor, err := pipeline.NewPredictor(policy, 0)
	require.NoError(t, err)

	chatSvc := chat.NewFake(func(messages []chat.Message) (string, error) {
		return "narrative", nil
	})

	if sampler == nil {
		sampler = stubSampler{frames: []pipeline.Frame{{JPEG: []byte{1}}, {JPEG: []byte{2}}}}
	}

	stats := make(chan interface{}, 16)
	errs := make(chan interface{}, 16)
	server := New(cfgSvc, chatSvc, policy, predictor,
		pipeline.NewAggregator(chatSvc, pipeline.QuorumPolicy{NonAutisticQuorum: 2}),
		pipeline.NewAnalyzer(sampler, chatSvc, 1),
		stats, errs)

	return &testEnv{server: server, infer: infer, chat: chatSvc, stats: stats, errs: errs}
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func do(t *testing.T, env *testEnv, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func uploadRequest(t *testing.T, path, field, contentType string, data []byte) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, field, "child.png", contentType, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	return req
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, config.ResidencyAlwaysResident, out["policy"])
	assert.Len(t, out["models"], 4)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestPredict(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/predict", "file", "image/png", pngImage(t)))
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Equal(t, "child.png", out["filename"])

	predictions := out["predictions"].([]any)
	require.Len(t, predictions, 4)
	first := predictions[0].(map[string]any)
	assert.Equal(t, "VGG-16", first["label"])
	assert.Equal(t, "Autistic", first["class"])
	assert.InDelta(t, 80.0, first["confidence"], 0.001)

	record := (<-env.stats).(model.PredictionRecord)
	assert.Equal(t, "child.png", record.Filename)
	assert.NotEmpty(t, record.ContentHash)
	assert.Len(t, record.Verdicts, 4)
}

func TestPredictAcceptsImageField(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := do(t, env, uploadRequest(t, "/predict", "image", "image/png", pngImage(t)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictRejectsNonImage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/predict", "file", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only image files are supported", out["error"])
	assert.Empty(t, env.infer.Runs())
}

func TestPredictUndecodableImage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/predict", "file", "image/jpeg", []byte("not really")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, out["error"])
}

func TestPredictMissingFile(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/predict", "other", "image/png", pngImage(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file is required", out["error"])
}

func TestPredictModelFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.infer.FailRun("inception", errors.New("bad tensor"))

	rec, out := do(t, env, uploadRequest(t, "/predict", "file", "image/png", pngImage(t)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "bad tensor")
	assert.Nil(t, out["predictions"])

	custom := (<-env.errs).(model.CustomError)
	assert.Equal(t, "api_predict", custom.Processor)
}

func TestPredictSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/predict/summary", "file", "image/png", pngImage(t)))
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Equal(t, "narrative", out["response"])
	// Two of four models vote Non-Autistic
	assert.Equal(t, "Non-Autistic", out["consensus"])
	assert.Len(t, out["predictions"], 4)

	requests := env.chat.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0][0].Content, "Model: VGG-16, Class: Autistic, Confidence: 80.00")
}

func TestPredictSummaryChatFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.Reply = func([]chat.Message) (string, error) {
		return "", errors.New("upstream unavailable")
	}

	rec, out := do(t, env, uploadRequest(t, "/predict/summary", "file", "image/png", pngImage(t)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "upstream unavailable")
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hello"}`))
	rec, out := do(t, env, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "narrative", out["response"])
	assert.Equal(t, "hello", env.chat.Requests()[0][0].Content)
}

func TestChatBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := do(t, env, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, env, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.Reply = func([]chat.Message) (string, error) {
		return "", errors.New("boom")
	}

	rec, out := do(t, env, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", out["error"])
}

func TestAnalyzeVideo(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, uploadRequest(t, "/analyze_video", "file", "video/mp4", []byte("video")))
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Equal(t, []any{"narrative", "narrative"}, out["responses"])
}

func TestAnalyzeVideoNoFrames(t *testing.T) {
	env := newTestEnv(t, stubSampler{err: model.ErrNoFrames})

	rec, out := do(t, env, uploadRequest(t, "/analyze_video", "file", "video/mp4", []byte("video")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrNoFrames.Error(), out["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, out := do(t, env, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", out["error"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t, nil)
	id := "6f1c1f2e-8a53-4a63-9a55-2f0d1b1f6a10"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, id)
	rec, _ := do(t, env, req)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerStatsCountFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.Reply = func([]chat.Message) (string, error) {
		return "", errors.New("boom")
	}

	do(t, env, httptest.NewRequest(http.MethodGet, "/health", nil))
	do(t, env, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`)))

	stats := env.server.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalFailures)
}
