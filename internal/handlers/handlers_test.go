package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/settings"
	"github.com/example/face-verify/internal/usecase"
)

type stubVerifier struct {
	outcome     *usecase.Outcome
	record      *repository.VerificationRecord
	recordErr   error
	store       *settings.Store
	summary     *usecase.MetricsSummary
	summaryErr  error
	lastProfile string
	lastID      string
	calls       int
}

func (s *stubVerifier) Verify(ctx context.Context, profileImage, idImage string) *usecase.Outcome {
	s.calls++
	s.lastProfile = profileImage
	s.lastID = idImage
	return s.outcome
}

func (s *stubVerifier) GetResult(ctx context.Context, requestID string) (*repository.VerificationRecord, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	if s.record != nil && s.record.RequestID == requestID {
		return s.record, nil
	}
	return nil, errors.New("not found")
}

func (s *stubVerifier) Config() *settings.Store {
	return s.store
}

func (s *stubVerifier) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	return s.summary, nil
}

func newTestRouter(v Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, v)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(resp.Body.Bytes(), &decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubVerifier{store: settings.NewStore()})

	resp, body := doJSON(router, http.MethodGet, "/health", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if body["service"] != ServiceName {
		t.Fatalf("unexpected service: %v", body["service"])
	}
	if body["timestamp"] == nil {
		t.Fatal("expected timestamp")
	}
}

func TestVerifyRejectsMissingBody(t *testing.T) {
	v := &stubVerifier{store: settings.NewStore()}
	router := newTestRouter(v)

	for _, body := range []string{"", "not json at all"} {
		resp, decoded := doJSON(router, http.MethodPost, "/verify", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
		if decoded["error"] != "No JSON data provided" {
			t.Fatalf("body %q: unexpected error: %v", body, decoded["error"])
		}
	}
	if v.calls != 0 {
		t.Fatalf("verifier must not run without a body, got %d calls", v.calls)
	}
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	router := newTestRouter(&stubVerifier{store: settings.NewStore()})

	cases := []string{
		`{"profile_image": "abc"}`,
		`{"id_image": "abc"}`,
		`{}`,
	}
	for _, body := range cases {
		resp, decoded := doJSON(router, http.MethodPost, "/verify", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
		if decoded["error"] != "Both profile_image and id_image are required" {
			t.Fatalf("body %q: unexpected error: %v", body, decoded["error"])
		}
	}
}

func TestVerifySuccessReturns200(t *testing.T) {
	distance := 0.1
	threshold := 0.6
	v := &stubVerifier{
		store: settings.NewStore(),
		outcome: &usecase.Outcome{
			Success:       true,
			Match:         true,
			Confidence:    0.9,
			Distance:      &distance,
			Timestamp:     "2026-01-01T00:00:00Z",
			ThresholdUsed: &threshold,
		},
	}
	router := newTestRouter(v)

	resp, body := doJSON(router, http.MethodPost, "/verify", `{"profile_image":"aaa","id_image":"bbb"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["match"] != true || body["confidence"] != 0.9 {
		t.Fatalf("unexpected body: %v", body)
	}
	if v.lastProfile != "aaa" || v.lastID != "bbb" {
		t.Fatalf("verifier received wrong payloads: %q %q", v.lastProfile, v.lastID)
	}
}

func TestVerifyFailureReturns400(t *testing.T) {
	v := &stubVerifier{
		store:   settings.NewStore(),
		outcome: &usecase.Outcome{Success: false, Error: "Profile image: No face detected in the image"},
	}
	router := newTestRouter(v)

	resp, body := doJSON(router, http.MethodPost, "/verify", `{"profile_image":"aaa","id_image":"bbb"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.Contains(body["error"].(string), "No face detected") {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestVerifyRejectsOversizedBody(t *testing.T) {
	v := &stubVerifier{store: settings.NewStore()}
	router := newTestRouter(v)

	payload := bytes.Repeat([]byte("a"), MaxRequestSize+1)
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["error"] != "File too large. Maximum size is 10MB." {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if v.calls != 0 {
		t.Fatal("verifier must not run for oversized bodies")
	}
}

func TestGetResultReturnsPersistedRecord(t *testing.T) {
	v := &stubVerifier{
		store: settings.NewStore(),
		record: &repository.VerificationRecord{
			RequestID:  "req-42",
			Success:    true,
			Matched:    true,
			Confidence: 0.92,
			Distance:   0.08,
			Threshold:  0.6,
		},
	}
	router := newTestRouter(v)

	resp, body := doJSON(router, http.MethodGet, "/result/req-42", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["request_id"] != "req-42" {
		t.Fatalf("unexpected request id: %v", body["request_id"])
	}
	if body["match"] != true || body["confidence"] != 0.92 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["threshold_used"] != 0.6 {
		t.Fatalf("unexpected threshold: %v", body["threshold_used"])
	}
}

func TestGetResultUnknownIDReturns404(t *testing.T) {
	router := newTestRouter(&stubVerifier{store: settings.NewStore()})

	resp, body := doJSON(router, http.MethodGet, "/result/unknown", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if body["error"] != "Result not found" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestGetConfig(t *testing.T) {
	store, err := settings.NewStoreWith(0.4, 0.7)
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	router := newTestRouter(&stubVerifier{store: store})

	resp, body := doJSON(router, http.MethodGet, "/config", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["tolerance"] != 0.4 || body["confidence_threshold"] != 0.7 {
		t.Fatalf("unexpected config: %v", body)
	}
	if body["max_image_size"] != "10MB" {
		t.Fatalf("unexpected max size: %v", body["max_image_size"])
	}
	formats, ok := body["supported_formats"].([]interface{})
	if !ok || len(formats) != 4 {
		t.Fatalf("unexpected formats: %v", body["supported_formats"])
	}
}

func TestUpdateConfig(t *testing.T) {
	store := settings.NewStore()
	router := newTestRouter(&stubVerifier{store: store})

	resp, body := doJSON(router, http.MethodPost, "/config", `{"tolerance": 0.3}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["message"] != "Configuration updated successfully" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if body["tolerance"] != 0.3 {
		t.Fatalf("unexpected tolerance: %v", body["tolerance"])
	}
	if store.Tolerance() != 0.3 {
		t.Fatalf("store not updated: %f", store.Tolerance())
	}
}

func TestUpdateConfigRejectsOutOfRange(t *testing.T) {
	store := settings.NewStore()
	router := newTestRouter(&stubVerifier{store: store})

	resp, body := doJSON(router, http.MethodPost, "/config", `{"tolerance": 1.5}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if body["error"] != "Tolerance must be between 0.0 and 1.0" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if store.Tolerance() != settings.DefaultTolerance {
		t.Fatalf("tolerance must stay unchanged, got %f", store.Tolerance())
	}
}

func TestUpdateConfigRejectsMalformedValue(t *testing.T) {
	router := newTestRouter(&stubVerifier{store: settings.NewStore()})

	resp, _ := doJSON(router, http.MethodPost, "/config", `{"tolerance": "loose"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestUpdateConfigRejectsOversizedBody(t *testing.T) {
	store := settings.NewStore()
	router := newTestRouter(&stubVerifier{store: store})

	// A single giant string token keeps the body syntactically valid JSON,
	// so the decoder reads all the way into the size cap.
	payload := append([]byte(`{"pad":"`), bytes.Repeat([]byte("a"), MaxRequestSize+1)...)
	payload = append(payload, '"', '}')
	req := httptest.NewRequest(http.MethodPost, "/config", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["error"] != "File too large. Maximum size is 10MB." {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if store.Tolerance() != settings.DefaultTolerance {
		t.Fatalf("config must stay unchanged, got %f", store.Tolerance())
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(&stubVerifier{
		store:   settings.NewStore(),
		summary: &usecase.MetricsSummary{TotalRequests: 3, SuccessfulRequests: 2, SuccessRate: 2.0 / 3.0},
	})

	resp, body := doJSON(router, http.MethodGet, "/metrics", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body["total_requests"] != float64(3) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(&stubVerifier{store: settings.NewStore()})

	resp, body := doJSON(router, http.MethodGet, "/nope", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if body["error"] != "Endpoint not found" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}
