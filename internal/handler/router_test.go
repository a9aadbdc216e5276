package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobwrap/internal/metrics"
	"github.com/hitoshi/jobwrap/internal/middleware"
)

// mockFeedService はテスト用のフィードサービス。
type mockFeedService struct {
	xml string
	err error
}

func (m *mockFeedService) Feed(ctx context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.xml, nil
}

// mockPinger はテスト用のデータベース死活確認。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

func newTestRouter(t *testing.T, svc FeedServiceInterface, db Pinger) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		FeedRate:        100,
		FeedBurst:       100,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		CORSAllowedOrigins: []string{"*"},
		RateLimiter:        rl,
		FeedService:        svc,
		DB:                 db,
		Collector:          metrics.NewCollector(reg),
		Gatherer:           reg,
	})
}

func TestRouter_GetWrapping_ReturnsXML(t *testing.T) {
	svc := &mockFeedService{xml: `<?xml version="1.0" encoding="UTF-8"?><source></source>`}
	router := newTestRouter(t, svc, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /wrapping status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml; charset=utf-8" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/xml; charset=utf-8")
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<source>") {
		t.Errorf("body = %q, want XML document", string(body))
	}
}

func TestRouter_GetWrapping_ServiceError_Returns500(t *testing.T) {
	svc := &mockFeedService{err: errors.New("db down")}
	router := newTestRouter(t, svc, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestRouter_Health_OK(t *testing.T) {
	router := newTestRouter(t, &mockFeedService{}, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestRouter_Health_DBDown_Returns503(t *testing.T) {
	router := newTestRouter(t, &mockFeedService{}, &mockPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
}

func TestRouter_Root_ReturnsBanner(t *testing.T) {
	router := newTestRouter(t, &mockFeedService{}, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["service"] != "jobwrap" {
		t.Errorf("service = %q, want %q", body["service"], "jobwrap")
	}
}

func TestRouter_Metrics_ReturnsPrometheusFormat(t *testing.T) {
	router := newTestRouter(t, &mockFeedService{xml: "<source></source>"}, &mockPinger{})

	// フィードを1回取得してカウンタを進める
	req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "jobwrap_feed_requests_total") {
		t.Error("metrics response should contain jobwrap_feed_requests_total")
	}
}

func TestRouter_RateLimit_Returns429(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		FeedRate:        1,
		FeedBurst:       1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	reg := prometheus.NewRegistry()
	router := NewRouter(&RouterDeps{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		CORSAllowedOrigins: []string{"*"},
		RateLimiter:        rl,
		FeedService:        &mockFeedService{xml: "<source></source>"},
		DB:                 &mockPinger{},
		Collector:          metrics.NewCollector(reg),
		Gatherer:           reg,
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
		req.RemoteAddr = "203.0.113.10:1000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if status := send(); status != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", status)
	}
	if status := send(); status != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", status)
	}
}

func TestRouter_PanicRecovery_Returns500(t *testing.T) {
	// panicするフィードサービス
	svc := &panicFeedService{}
	router := newTestRouter(t, svc, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

type panicFeedService struct{}

func (p *panicFeedService) Feed(ctx context.Context) (string, error) {
	panic("boom")
}
