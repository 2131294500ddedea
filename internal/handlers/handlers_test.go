package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/xray-check/internal/auth"
	"github.com/example/xray-check/internal/imageprocessor"
	"github.com/example/xray-check/internal/model"
	"github.com/example/xray-check/internal/repository"
	"github.com/example/xray-check/internal/session"
	"github.com/example/xray-check/internal/usecase"
)

const testJWTSecret = "test-secret"

type memoryStore struct {
	sessions map[string]*session.Session
}

func (m *memoryStore) Load(ctx context.Context, id string) (*session.Session, error) {
	if sess, ok := m.sessions[id]; ok {
		return sess.Clone(), nil
	}
	return session.New(id), nil
}

func (m *memoryStore) Save(ctx context.Context, sess *session.Session) error {
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type memoryRepository struct {
	logs []*repository.PredictionLog
}

func (m *memoryRepository) SaveLog(ctx context.Context, log *repository.PredictionLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*repository.PredictionLog, error) {
	var out []*repository.PredictionLog
	for _, log := range m.logs {
		if log.SessionID == sessionID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *memoryRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{TotalCount: int64(len(m.logs))}, nil
}

type stubPredictor struct {
	out []float32
	err error
}

func (s *stubPredictor) Predict(ctx context.Context, input imageprocessor.Tensor) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type testServer struct {
	router *gin.Engine
	store  *memoryStore
	repo   *memoryRepository
}

func newTestServer(predictor model.Predictor) *testServer {
	gin.SetMode(gin.TestMode)

	store := &memoryStore{sessions: map[string]*session.Session{}}
	repo := &memoryRepository{}
	uc := usecase.NewDetectorUseCase(repo, store, model.NewEngine(predictor), zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	issuer := auth.NewIssuer(testJWTSecret, "", time.Hour)
	RegisterRoutes(router, uc, issuer, auth.JWTMiddleware(testJWTSecret, ""))

	return &testServer{router: router, store: store, repo: repo}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func (s *testServer) startSession(t *testing.T) (string, string) {
	t.Helper()
	resp := s.do(httptest.NewRequest(http.MethodPost, "/api/session", nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	decodeBody(t, resp, &body)
	if body.SessionID == "" || body.Token == "" {
		t.Fatalf("expected session id and token, got %+v", body)
	}
	return body.SessionID, body.Token
}

func (s *testServer) upload(t *testing.T, token, filename, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, filename, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer "+token)
	return s.do(req)
}

func (s *testServer) navigate(t *testing.T, token, screen string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"screen":"`+screen+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return s.do(req)
}

type detectResponse struct {
	Label          string `json:"label"`
	Confidence     string `json:"confidence"`
	AdviceUnlocked bool   `json:"advice_unlocked"`
	Disclaimer     string `json:"disclaimer"`
}

type viewResponse struct {
	View struct {
		Screen string `json:"screen"`
		Notice string `json:"notice"`
	} `json:"view"`
}

func TestDetectBlackJPEGReturnsNormal(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.2}})
	sessionID, token := srv.startSession(t)

	resp := srv.upload(t, token, "black.jpg", "image/jpeg", encodeJPEG(t, solidImage(100, 100, color.Black)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body detectResponse
	decodeBody(t, resp, &body)
	if body.Label != "Normal" || body.Confidence != "80.00%" || body.AdviceUnlocked {
		t.Fatalf("unexpected response: %+v", body)
	}
	if body.Disclaimer == "" {
		t.Fatal("expected disclaimer")
	}
	if srv.store.sessions[sessionID].Navigation.AdviceUnlocked {
		t.Fatal("expected advice to stay locked")
	}
}

func TestDetectWhitePNGUnlocksAdvice(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.93}})
	_, token := srv.startSession(t)

	resp := srv.upload(t, token, "white.png", "image/png", encodePNG(t, solidImage(50, 50, color.White)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body detectResponse
	decodeBody(t, resp, &body)
	if body.Label != "Pneumonia" || body.Confidence != "93.00%" || !body.AdviceUnlocked {
		t.Fatalf("unexpected response: %+v", body)
	}

	nav := srv.navigate(t, token, "advice")
	if nav.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", nav.Code, nav.Body.String())
	}
	var view viewResponse
	decodeBody(t, nav, &view)
	if view.View.Screen != "advice" || view.View.Notice != "" {
		t.Fatalf("expected advice content, got %+v", view.View)
	}
}

func TestNavigateToLockedAdviceReturnsFallback(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.2}})
	_, token := srv.startSession(t)

	resp := srv.navigate(t, token, "advice")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view viewResponse
	decodeBody(t, resp, &view)
	if view.View.Screen != "advice_locked" || view.View.Notice == "" {
		t.Fatalf("expected fallback notice, got %+v", view.View)
	}

	screen := httptest.NewRequest(http.MethodGet, "/api/screen", nil)
	screen.Header.Set("Authorization", "Bearer "+token)
	current := srv.do(screen)
	decodeBody(t, current, &view)
	if view.View.Screen != "detector" {
		t.Fatalf("expected redirect to detector, got %s", view.View.Screen)
	}
}

func TestNavigateRejectsUnknownScreen(t *testing.T) {
	srv := newTestServer(&stubPredictor{})
	_, token := srv.startSession(t)

	if resp := srv.navigate(t, token, "billing"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDetectRejectsTextUploadAndKeepsState(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.93}})
	sessionID, token := srv.startSession(t)

	if resp := srv.upload(t, token, "white.png", "image/png", encodePNG(t, solidImage(50, 50, color.White))); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := srv.upload(t, token, "notes.txt", "text/plain", []byte("hello"))
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	sess := srv.store.sessions[sessionID]
	if !sess.Navigation.AdviceUnlocked || sess.Decision == nil || sess.Decision.Label != "Pneumonia" {
		t.Fatalf("session changed after rejected upload: %+v", sess)
	}
}

func TestDetectPredictorFailureReturnsBadGateway(t *testing.T) {
	srv := newTestServer(&stubPredictor{err: errors.New("runtime exploded")})
	sessionID, token := srv.startSession(t)

	resp := srv.upload(t, token, "black.jpg", "image/jpeg", encodeJPEG(t, solidImage(100, 100, color.Black)))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
	if sess := srv.store.sessions[sessionID]; sess.Decision != nil {
		t.Fatalf("decision should be untouched, got %+v", sess.Decision)
	}
}

func TestDetectRejectsLargeUpload(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.1}})
	_, token := srv.startSession(t)

	resp := srv.upload(t, token, "huge.png", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestDetectRequiresToken(t *testing.T) {
	srv := newTestServer(&stubPredictor{})
	req := httptest.NewRequest(http.MethodPost, "/api/detect", nil)
	if resp := srv.do(req); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestHistoryListsSessionPredictions(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.93}})
	_, token := srv.startSession(t)
	_, other := srv.startSession(t)

	srv.upload(t, token, "white.png", "image/png", encodePNG(t, solidImage(50, 50, color.White)))
	srv.upload(t, other, "white.png", "image/png", encodePNG(t, solidImage(50, 50, color.White)))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := srv.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Items []map[string]interface{} `json:"items"`
	}
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0]["label"] != "Pneumonia" {
		t.Fatalf("unexpected history: %+v", body.Items)
	}
}

func TestEndSessionRelocksAdvice(t *testing.T) {
	srv := newTestServer(&stubPredictor{out: []float32{0.93}})
	sessionID, token := srv.startSession(t)
	srv.upload(t, token, "white.png", "image/png", encodePNG(t, solidImage(50, 50, color.White)))

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := srv.do(req); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, ok := srv.store.sessions[sessionID]; ok {
		t.Fatal("expected session to be removed")
	}

	var view viewResponse
	decodeBody(t, srv.navigate(t, token, "advice"), &view)
	if view.View.Screen != "advice_locked" {
		t.Fatalf("expected locked advice after ending session, got %s", view.View.Screen)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubPredictor{})
	resp := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode body %q: %v", resp.Body.String(), err)
	}
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
