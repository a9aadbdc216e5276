package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/jobwrap/internal/repository"
)

// cacheKey は描画済みフィードXMLのキャッシュキー。
const cacheKey = "jobwrap:feed:wrapping"

// Cache は描画済みフィードのキャッシュインターフェース。
// go-redisのクライアントが満たす最小の操作だけを切り出している。
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Service は公開求人を読み取りフィードXMLを生成する。
// 読み取り専用であり、調整処理を起動することはない。
type Service struct {
	published repository.PublishedPostingRepository
	cache     Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheがnilの場合、キャッシュは無効になり毎回描画する。
func NewService(
	published repository.PublishedPostingRepository,
	cache Cache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		published: published,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Feed はフィードXMLを返す。
// キャッシュにあればそれを返し、なければ公開テーブルから描画して
// キャッシュに保存する。キャッシュの失敗は直接描画に縮退し、
// エラーとして扱わない。公開テーブルの読み取り失敗だけがエラーになる。
func (s *Service) Feed(ctx context.Context) (string, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			return cached, nil
		}
		if err != redis.Nil {
			s.logger.Warn("フィードキャッシュの読み取りに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	postings, err := s.published.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("フィード用の公開求人の読み取りに失敗しました: %w", err)
	}

	xml := Render(postings, s.now())

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, xml, s.cacheTTL).Err(); err != nil {
			s.logger.Warn("フィードキャッシュの保存に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	return xml, nil
}
