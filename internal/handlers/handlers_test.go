package handlers

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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	"github.com/Brownie44l1/plant-disease-api/internal/labels"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	mu     sync.Mutex
	output []float32
	err    error
}

func (f *fakeRunner) Run(input []float32) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.output...), nil
}

func (f *fakeRunner) setOutput(output ...float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = output
}

func (f *fakeRunner) InputShape() []int64 { return model.LayoutNHWC.InputShape(model.DefaultImageSize) }

func (f *fakeRunner) Close() error { return nil }

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type testServer struct {
	router    *gin.Engine
	runner    *fakeRunner
	generator *fakeGenerator
	sessions  *session.Store
}

func newTestServer(t *testing.T, output ...float32) *testServer {
	t.Helper()
	generator := &fakeGenerator{reply: "### Late blight\nRemove infected leaves."}
	s := newTestServerWithGenerator(t, generator, output...)
	s.generator = generator
	return s
}

func newTestServerWithGenerator(t *testing.T, generator advisory.Generator, output ...float32) *testServer {
	t.Helper()
	table, err := labels.FromMap(map[string]string{
		"0": "Apple___Apple_scab",
		"1": "Tomato___Late_blight",
		"2": "Tomato___healthy",
	})
	require.NoError(t, err)

	runner := &fakeRunner{output: output}
	predictor := model.NewPredictor(
		model.NewClassifier(runner, model.ActivationNone),
		table,
		model.PredictorOptions{TopK: 2},
	)
	store := session.NewStore(1<<20, time.Hour)

	h := NewHandler(predictor, advisory.NewAdvisor(generator, 0), store, 1<<20)
	return &testServer{
		router:   NewRouter(h, "*"),
		runner:   runner,
		sessions: store,
	}
}

// gatedGenerator holds back replies for prompts that mention label until
// release is closed. It answers every other prompt at once.
type gatedGenerator struct {
	label   string
	entered chan struct{}
	release chan struct{}
}

func newGatedGenerator(label string) *gatedGenerator {
	return &gatedGenerator{label: label, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedGenerator) Name() string { return "gated" }

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, g.label) {
		g.entered <- struct{}{}
		<-g.release
		return "text for " + g.label, nil
	}
	return "text for another disease", nil
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 160, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "leaf.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createSession(t *testing.T, s *testServer) string {
	t.Helper()
	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 3, body["classes"])
	assert.Equal(t, "fake", body["advisor"])
}

func TestPredictRawTensor(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	size := 224 * 224 * 3

	w := s.do(jsonRequest(t, http.MethodPost, "/predict", model.PredictionRequest{Image: make([]float32, size)}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Tomato___Late_blight", body["class"])
	assert.Equal(t, "Tomato - Late Blight", body["display_name"])
	assert.EqualValues(t, 1, body["index"])
	assert.InDelta(t, 0.8, body["confidence"], 1e-6)
	assert.Len(t, body["top_k"], 2)
}

func TestPredictRejectsWrongLength(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(jsonRequest(t, http.MethodPost, "/predict", model.PredictionRequest{Image: make([]float32, 10)}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Expected 150528 values, got 10")
}

func TestPredictRejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	w := s.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictFromImage(t *testing.T) {
	s := newTestServer(t, 0.7, 0.2, 0.1)

	w := s.do(uploadRequest(t, "/predict/image", "image", pngBytes(t)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Apple___Apple_scab", body["class"])
	assert.InDelta(t, 0.7, body["confidence"], 1e-6)
}

func TestPredictFromImageBadInput(t *testing.T) {
	s := newTestServer(t, 0.7, 0.2, 0.1)

	w := s.do(uploadRequest(t, "/predict/image", "file", pngBytes(t)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(uploadRequest(t, "/predict/image", "image", []byte("definitely not an image")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Invalid image format")
}

func TestPredictIndexOutsideLabelsIsServerError(t *testing.T) {
	s := newTestServer(t, 0.1, 0.1, 0.1, 0.7)

	w := s.do(uploadRequest(t, "/predict/image", "image", pngBytes(t)))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["index"])
	assert.Contains(t, body["error"], "Prediction failed")
}

func TestPredictInferenceFailure(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	s.runner.err = errors.New("session exploded")

	w := s.do(uploadRequest(t, "/predict/image", "image", pngBytes(t)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Prediction failed")
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	id := createSession(t, s)

	w := s.do(uploadRequest(t, "/api/v1/sessions/"+id+"/identify", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "### Late blight\nRemove infected leaves.", body["disease_info"])
	state := body["session"].(map[string]any)
	assert.Equal(t, "Tomato___Late_blight", state["detected_disease"])
	require.Len(t, s.generator.prompts, 1)
	assert.Contains(t, s.generator.prompts[0], "Tomato___Late_blight")

	s.generator.reply = "Copper fungicide every 7 days."
	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/questions", gin.H{"question": "How do I treat it?"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "Copper fungicide every 7 days.", body["answer"])
	assert.Equal(t, true, body["ok"])
	require.Len(t, s.generator.prompts, 2)
	assert.Contains(t, s.generator.prompts[1], "How do I treat it?")

	got, err := s.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Copper fungicide every 7 days.", got.LatestAnswer)
	assert.Equal(t, "### Late blight\nRemove infected leaves.", got.DiseaseInfo)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/clear", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cleared, err := s.sessions.Get(id)
	require.NoError(t, err)
	assert.False(t, cleared.HasDetection())
	assert.Empty(t, cleared.LatestAnswer)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConcurrentIdentifyKeepsInfoWithItsDetection(t *testing.T) {
	generator := newGatedGenerator("Apple___Apple_scab")
	s := newTestServerWithGenerator(t, generator, 0.9, 0.05, 0.05)
	id := createSession(t, s)

	first := uploadRequest(t, "/api/v1/sessions/"+id+"/identify", "image", pngBytes(t))
	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() { slow <- s.do(first) }()
	<-generator.entered

	s.runner.setOutput(0.05, 0.9, 0.05)
	w := s.do(uploadRequest(t, "/api/v1/sessions/"+id+"/identify", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	close(generator.release)
	stale := <-slow
	assert.Equal(t, http.StatusConflict, stale.Code, stale.Body.String())

	state, err := s.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Tomato___Late_blight", state.DetectedDisease)
	assert.Equal(t, "text for another disease", state.DiseaseInfo)
}

func TestAnswerForReplacedDetectionIsDiscarded(t *testing.T) {
	generator := newGatedGenerator("Is it spreading?")
	s := newTestServerWithGenerator(t, generator, 0.05, 0.9, 0.05)
	id := createSession(t, s)
	_, err := s.sessions.SetDetection(id, "Apple___Apple_scab", 0.8)
	require.NoError(t, err)

	question := jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/questions", gin.H{"question": "Is it spreading?"})
	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() { slow <- s.do(question) }()
	<-generator.entered

	w := s.do(uploadRequest(t, "/api/v1/sessions/"+id+"/identify", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	close(generator.release)
	stale := <-slow
	assert.Equal(t, http.StatusConflict, stale.Code)

	state, err := s.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Tomato___Late_blight", state.DetectedDisease)
	assert.Empty(t, state.LatestAnswer)
}

func TestClasses(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes", nil))

	require.Equal(t, http.StatusOK, w.Code)
	classes, ok := decode(t, w)["classes"].([]any)
	require.True(t, ok)
	require.Len(t, classes, 3)
	second := classes[1].(map[string]any)
	assert.EqualValues(t, 1, second["index"])
	assert.Equal(t, "Tomato___Late_blight", second["class"])
	assert.Equal(t, "Tomato - Late Blight", second["display_name"])
}

func TestIdentifyAdvisoryFailureStillSucceeds(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	s.generator.err = errors.New("quota exceeded")
	id := createSession(t, s)

	w := s.do(uploadRequest(t, "/api/v1/sessions/"+id+"/identify", "image", pngBytes(t)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	info, _ := body["disease_info"].(string)
	assert.True(t, strings.HasPrefix(info, "Error: "), info)
	assert.Contains(t, info, "quota exceeded")

	state, err := s.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Tomato___Late_blight", state.DetectedDisease)
}

func TestQuestionWithoutDetection(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	id := createSession(t, s)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/questions", gin.H{"question": "What is it?"}))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, s.generator.prompts)
}

func TestQuestionAnswerFailurePrefix(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	id := createSession(t, s)
	_, err := s.sessions.SetDetection(id, "Tomato___Late_blight", 0.8)
	require.NoError(t, err)
	s.generator.err = errors.New("503 unavailable")

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/questions", gin.H{"question": "Is it spreading?"}))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	answer, _ := body["answer"].(string)
	assert.True(t, strings.HasPrefix(answer, "Error generating answer: "), answer)
}

func TestQuestionRequiresText(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	id := createSession(t, s)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/questions", gin.H{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(uploadRequest(t, "/api/v1/sessions/nope/identify", "image", pngBytes(t)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions/nope/questions", gin.H{"question": "Why?"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/nope/clear", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdvice(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/advice", gin.H{"label": "Apple___Apple_scab"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "### Late blight\nRemove infected leaves.", body["text"])

	s.generator.err = errors.New("boom")
	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/advice", gin.H{"label": "Apple___Apple_scab", "question": "Is it fatal?"}))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["ok"])
	text, _ := body["text"].(string)
	assert.True(t, strings.HasPrefix(text, "Error generating answer: "), text)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/advice", gin.H{"question": "No label"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	table, err := labels.FromMap(map[string]string{"0": "Tomato___healthy"})
	require.NoError(t, err)
	predictor := model.NewPredictor(model.NewClassifier(&fakeRunner{output: []float32{1}}, model.ActivationNone), table, model.PredictorOptions{})
	h := NewHandler(predictor, advisory.NewAdvisor(advisory.NewStubGenerator(), 0), session.NewStore(1<<20, time.Hour), 1<<20)
	router := NewRouter(h, "https://plants.example.com")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/predict/image", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://plants.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadLimit(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)
	big := bytes.Repeat([]byte{0xff}, 2<<20)

	w := s.do(uploadRequest(t, "/predict/image", "image", big))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, "Image too large (max 1048576 bytes)", decode(t, w)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 0.1, 0.8, 0.1)

	w := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
