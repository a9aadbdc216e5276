package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobwrap/internal/metrics"
)

// WrappingHandler はフィードXML配信のハンドラー。
type WrappingHandler struct {
	service   FeedServiceInterface
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewWrappingHandler はWrappingHandlerの新しいインスタンスを生成する。
func NewWrappingHandler(service FeedServiceInterface, collector metrics.MetricsCollector, logger *slog.Logger) *WrappingHandler {
	return &WrappingHandler{
		service:   service,
		collector: collector,
		logger:    logger,
	}
}

// GetWrapping はGET /wrappingのハンドラー。
// フィードXMLをapplication/xmlで返す。ストレージ読み取りの失敗は
// 部分的なドキュメントを返さず500で応答する。
func (h *WrappingHandler) GetWrapping(w http.ResponseWriter, r *http.Request) {
	xml, err := h.service.Feed(r.Context())
	if err != nil {
		h.logger.Error("フィードの生成に失敗しました",
			slog.String("error", err.Error()),
		)
		h.collector.RecordFeedRequest(http.StatusInternalServerError)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.collector.RecordFeedRequest(http.StatusOK)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(xml))
}
