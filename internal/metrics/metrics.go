// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 調整エンジン・重複排除パス・フィードハンドラーから利用する。
type MetricsCollector interface {
	RecordPromoted(count int)
	RecordPromotionFailure(count int)
	RecordPruned(count int64)
	RecordDuplicatesRemoved(count int64)
	RecordEnrichSuccess()
	RecordEnrichFailure()
	RecordEnrichLatency(duration time.Duration)
	RecordFeedRequest(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	promoted      prometheus.Counter
	promotionFail prometheus.Counter
	pruned        prometheus.Counter
	dupRemoved    prometheus.Counter
	enrichSuccess prometheus.Counter
	enrichFail    prometheus.Counter
	enrichLatency prometheus.Histogram
	feedRequests  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_promoted_total",
			Help: "ステージングから公開へ昇格した求人の合計数",
		}),
		promotionFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_promotion_fail_total",
			Help: "昇格に失敗した求人の合計数",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_pruned_total",
			Help: "ステージング消滅により削除された公開求人の合計数",
		}),
		dupRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_duplicates_removed_total",
			Help: "重複排除パスで削除された公開求人の合計数",
		}),
		enrichSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_enrich_success_total",
			Help: "本文改善呼び出し成功の合計数",
		}),
		enrichFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwrap_enrich_fail_total",
			Help: "本文改善呼び出し失敗の合計数",
		}),
		enrichLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobwrap_enrich_latency_seconds",
			Help:    "本文改善呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwrap_feed_requests_total",
			Help: "HTTPステータスコード別のフィードリクエスト数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.promoted,
		c.promotionFail,
		c.pruned,
		c.dupRemoved,
		c.enrichSuccess,
		c.enrichFail,
		c.enrichLatency,
		c.feedRequests,
	)

	return c
}

// RecordPromoted は昇格した求人数を記録する。
func (c *Collector) RecordPromoted(count int) {
	c.promoted.Add(float64(count))
}

// RecordPromotionFailure は昇格に失敗した求人数を記録する。
func (c *Collector) RecordPromotionFailure(count int) {
	c.promotionFail.Add(float64(count))
}

// RecordPruned は削除された公開求人数を記録する。
func (c *Collector) RecordPruned(count int64) {
	c.pruned.Add(float64(count))
}

// RecordDuplicatesRemoved は重複排除で削除された求人数を記録する。
func (c *Collector) RecordDuplicatesRemoved(count int64) {
	c.dupRemoved.Add(float64(count))
}

// RecordEnrichSuccess は本文改善成功を記録する。
func (c *Collector) RecordEnrichSuccess() {
	c.enrichSuccess.Inc()
}

// RecordEnrichFailure は本文改善失敗を記録する。
func (c *Collector) RecordEnrichFailure() {
	c.enrichFail.Inc()
}

// RecordEnrichLatency は本文改善呼び出しのレイテンシを記録する。
func (c *Collector) RecordEnrichLatency(duration time.Duration) {
	c.enrichLatency.Observe(duration.Seconds())
}

// RecordFeedRequest はフィードリクエストのステータスコードを記録する。
func (c *Collector) RecordFeedRequest(statusCode int) {
	c.feedRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
