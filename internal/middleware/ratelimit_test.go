package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newFeedHandler(rl *RateLimiter, callCount *int) http.Handler {
	return rl.FeedMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*callCount++
		w.WriteHeader(http.StatusOK)
	}))
}

func TestFeedMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		FeedRate:        2, // 2 req/sec
		FeedBurst:       5, // バースト5
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := newFeedHandler(rl, &handlerCallCount)

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
		req.RemoteAddr = "203.0.113.10:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestFeedMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		FeedRate:        1, // 1 req/sec
		FeedBurst:       2, // バースト2
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := newFeedHandler(rl, &handlerCallCount)

	send := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
		req.RemoteAddr = "203.0.113.10:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result()
	}

	// バースト2回は通る
	for i := 0; i < 2; i++ {
		if resp := send(); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}

	// 3回目は429
	resp := send()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	// Retry-Afterヘッダーが正の整数であること
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Error("Retry-After header is missing")
	} else if sec, err := strconv.Atoi(retryAfter); err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}

	// レスポンスボディがJSONのエラー形式であること
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q, want %q", body["code"], "rate_limit_exceeded")
	}

	if handlerCallCount != 2 {
		t.Errorf("handler call count = %d, want 2", handlerCallCount)
	}
}

func TestFeedMiddleware_LimitsPerIPIndependently(t *testing.T) {
	cfg := RateLimiterConfig{
		FeedRate:        1,
		FeedBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := newFeedHandler(rl, &handlerCallCount)

	send := func(addr string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result()
	}

	// IP-1がバーストを使い切る
	if resp := send("203.0.113.10:1000"); resp.StatusCode != http.StatusOK {
		t.Fatalf("ip1 first request: status = %d, want 200", resp.StatusCode)
	}
	if resp := send("203.0.113.10:1001"); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("ip1 second request: status = %d, want 429", resp.StatusCode)
	}

	// IP-2は独立したバケットのため通る
	if resp := send("203.0.113.20:1000"); resp.StatusCode != http.StatusOK {
		t.Fatalf("ip2 first request: status = %d, want 200", resp.StatusCode)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.LimiterCount())
	}
}

func TestFeedMiddleware_UsesForwardedForHeader(t *testing.T) {
	cfg := RateLimiterConfig{
		FeedRate:        1,
		FeedBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := newFeedHandler(rl, &handlerCallCount)

	send := func(xff string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/wrapping", nil)
		req.RemoteAddr = "10.0.0.1:1000" // 同一プロキシ経由
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result()
	}

	// 同一XFFはバケットを共有する
	if resp := send("198.51.100.1"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", resp.StatusCode)
	}
	if resp := send("198.51.100.1"); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", resp.StatusCode)
	}

	// 異なるXFFは別バケット
	if resp := send("198.51.100.2"); resp.StatusCode != http.StatusOK {
		t.Fatalf("different ip request: status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		FeedRate:        1,
		FeedBurst:       1,
		CleanupInterval: 10 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreateLimiter("203.0.113.10")
	if rl.LimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.LimiterCount())
	}

	// TTL (CleanupInterval * 2 = 20ms) を超えるまで待つ
	deadline := time.Now().Add(time.Second)
	for rl.LimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if rl.LimiterCount() != 0 {
		t.Errorf("limiter count = %d, want 0 after cleanup", rl.LimiterCount())
	}
}

func TestDefaultRateLimiterConfig_Values(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.FeedBurst != 120 {
		t.Errorf("FeedBurst = %d, want 120", cfg.FeedBurst)
	}
	// 120 req/min = 2 req/sec
	if float64(cfg.FeedRate) != 2.0 {
		t.Errorf("FeedRate = %v, want 2.0", cfg.FeedRate)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
