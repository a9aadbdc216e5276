// Package dedup は公開テーブルの重複排除処理を提供する。
//
// 昇格は挿入専用であり、調整の並行実行や再実行で同一partner_job_idの
// 行が複数できることがある。重複排除パスはキーごとに最新の1行だけを
// 残し、残りを削除する。調整とは独立に実行でき、何度実行しても安全。
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/jobwrap/internal/metrics"
	"github.com/hitoshi/jobwrap/internal/model"
	"github.com/hitoshi/jobwrap/internal/repository"
)

// Deduplicator は公開テーブルの重複排除を実行する。
type Deduplicator struct {
	published repository.PublishedPostingRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDeduplicator はDeduplicatorの新しいインスタンスを生成する。
func NewDeduplicator(
	published repository.PublishedPostingRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Deduplicator {
	return &Deduplicator{
		published: published,
		collector: collector,
		logger:    logger,
	}
}

// Run は重複排除を1回実行し、削除件数を返す。
// partner_job_idごとに最新の1行（UpdatedAt、次にCreatedAt、次に大きいid）を
// 残して他を削除する。キーなしの行は無条件に残す。
func (d *Deduplicator) Run(ctx context.Context) (int64, error) {
	runID := uuid.NewString()
	log := d.logger.With(slog.String("run_id", runID))

	postings, err := d.published.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("公開レコードの読み取りに失敗しました: %w", err)
	}

	victims := selectVictims(postings)
	if len(victims) == 0 {
		log.Info("重複はありませんでした")
		return 0, nil
	}

	deleted, err := d.published.DeleteByIDs(ctx, victims)
	if err != nil {
		return 0, fmt.Errorf("重複行の削除に失敗しました: %w", err)
	}
	d.collector.RecordDuplicatesRemoved(deleted)

	log.Info("重複排除が完了しました",
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

// selectVictims は削除対象の公開レコードidを返す。
// キーごとに勝者1行を選び、それ以外のidを集める。
func selectVictims(postings []*model.PublishedPosting) []int64 {
	winners := make(map[string]*model.PublishedPosting)
	var victims []int64

	for _, p := range postings {
		if !p.HasPartnerJobID() {
			continue
		}
		key := *p.PartnerJobID
		current, ok := winners[key]
		if !ok {
			winners[key] = p
			continue
		}
		if newerThan(p, current) {
			victims = append(victims, current.ID)
			winners[key] = p
		} else {
			victims = append(victims, p.ID)
		}
	}
	return victims
}

// newerThan はaがbより新しいかを判定する。
// UpdatedAtで比較し、同値ならCreatedAt、それも同値なら大きいidを新しいとみなす。
func newerThan(a, b *model.PublishedPosting) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
