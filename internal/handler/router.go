// Package handler はHTTPエンドポイントのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobwrap/internal/geoip"
	"github.com/hitoshi/jobwrap/internal/metrics"
	"github.com/hitoshi/jobwrap/internal/middleware"
)

// FeedServiceInterface はフィードXML生成サービスのインターフェース。
type FeedServiceInterface interface {
	// Feed はフィードXMLを返す。
	Feed(ctx context.Context) (string, error)
}

// Pinger はデータベース死活確認のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	GeoResolver        geoip.Resolver
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter

	// フィード
	FeedService FeedServiceInterface

	// ヘルスチェック
	DB Pinger

	// メトリクス
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → CORSMiddleware → LoggingMiddleware
//
// フィードルート（/wrapping）にはIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.GeoResolver))

	wrappingHandler := NewWrappingHandler(deps.FeedService, deps.Collector, deps.Logger)

	r.With(deps.RateLimiter.FeedMiddleware()).Get("/wrapping", wrappingHandler.GetWrapping)

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/", rootHandler)

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// healthHandler はデータベース接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// rootHandler はサービスバナーを返す。
func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "jobwrap",
		"status":  "ok",
	})
}
