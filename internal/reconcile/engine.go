// Package reconcile はステージングと公開テーブルの調整処理を提供する。
//
// 調整は3段階で実行される。まずステージングから消えた求人を公開から
// 削除し（prune）、次にステージングの新規求人を特定し、最後に本文改善を
// 経て1件ずつ公開へ昇格する（promote）。昇格は挿入専用で、個々の失敗は
// 実行全体を止めない。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobwrap/internal/enrich"
	"github.com/hitoshi/jobwrap/internal/metrics"
	"github.com/hitoshi/jobwrap/internal/model"
	"github.com/hitoshi/jobwrap/internal/repository"
	"github.com/hitoshi/jobwrap/internal/security"
)

// Summary は調整実行1回分の結果。
type Summary struct {
	// Pruned はステージング消滅により削除された公開求人数。
	Pruned int64
	// Promoted は昇格に成功した求人数。
	Promoted int
	// Failed は昇格に失敗した求人数（実行は継続する）。
	Failed int
	// Missing は実行後もまだ公開されていないステージングのpartner_job_id。
	// 診断用の参考情報であり、次回実行で再試行される。
	Missing []string
}

// Engine はステージングと公開テーブルの調整エンジン。
type Engine struct {
	staged    repository.StagedPostingRepository
	published repository.PublishedPostingRepository
	improver  enrich.TextImprover
	sanitizer security.ContentSanitizerService
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	staged repository.StagedPostingRepository,
	published repository.PublishedPostingRepository,
	improver enrich.TextImprover,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		staged:    staged,
		published: published,
		improver:  improver,
		sanitizer: sanitizer,
		collector: collector,
		logger:    logger,
	}
}

// PruneStale はステージングに存在しなくなった公開求人を削除する。
// キーなし（NULL・空文字列）の公開行は削除しない。
func (e *Engine) PruneStale(ctx context.Context) (int64, error) {
	return e.published.DeleteStale(ctx)
}

// SelectNewStaged は昇格対象のステージング求人を返す。
// キーなしの行は常に新規として扱い、キーありの行は公開側の
// partner_job_id集合に含まれないものだけを返す。
func (e *Engine) SelectNewStaged(ctx context.Context) ([]*model.StagedPosting, error) {
	staged, err := e.staged.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ステージングの読み取りに失敗しました: %w", err)
	}

	publishedIDs, err := e.published.ListPartnerJobIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("公開済みキー集合の読み取りに失敗しました: %w", err)
	}

	var fresh []*model.StagedPosting
	for _, s := range staged {
		if !s.HasPartnerJobID() {
			fresh = append(fresh, s)
			continue
		}
		if _, ok := publishedIDs[*s.PartnerJobID]; !ok {
			fresh = append(fresh, s)
		}
	}
	return fresh, nil
}

// Promote はステージング求人1件を本文改善を経て公開テーブルへ挿入する。
// 本文改善の失敗は致命的ではなく、原文をそのまま使用する。
// 挿入専用であり、同一キーの既存公開行は確認しない。
func (e *Engine) Promote(ctx context.Context, s *model.StagedPosting) (*model.PublishedPosting, error) {
	description := e.improveDescription(ctx, s)

	p := &model.PublishedPosting{
		PartnerJobID:    s.PartnerJobID,
		Position:        s.Position,
		Description:     description,
		Company:         s.Company,
		CompanyID:       s.CompanyID,
		ApplyURL:        s.ApplyURL,
		Location:        s.Location,
		WorkplaceTypes:  s.WorkplaceTypes,
		ExperienceLevel: s.ExperienceLevel,
		Jobtype:         s.Jobtype,
		LastBuildDate:   s.LastBuildDate,
	}

	if err := e.published.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// improveDescription は本文改善を試み、失敗時は原文に縮退する。
// 改善成功時のみ出力をサニタイズする（原文はフィード描画時にCDATAで保護される）。
func (e *Engine) improveDescription(ctx context.Context, s *model.StagedPosting) string {
	raw := s.JobDescription
	if raw == "" {
		return ""
	}

	start := time.Now()
	improved, err := e.improver.Improve(ctx, raw)
	e.collector.RecordEnrichLatency(time.Since(start))
	if err != nil {
		e.collector.RecordEnrichFailure()
		e.logger.Warn("本文改善に失敗したため原文を使用します",
			slog.Int64("staged_id", s.ID),
			slog.String("error", err.Error()),
		)
		return raw
	}

	e.collector.RecordEnrichSuccess()
	return e.sanitizer.Sanitize(improved)
}

// Run は調整処理を1回実行する。
// 削除とステージング読み取りの失敗は致命的で即座に返す。
// 昇格の失敗は件数として記録し、残りの求人の処理を継続する。
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	log := e.logger.With(slog.String("run_id", runID))
	log.Info("調整処理を開始します")

	summary := &Summary{}

	pruned, err := e.PruneStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("古い公開求人の削除に失敗しました: %w", err)
	}
	summary.Pruned = pruned
	e.collector.RecordPruned(pruned)

	fresh, err := e.SelectNewStaged(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("昇格対象を特定しました",
		slog.Int64("pruned", pruned),
		slog.Int("new_staged", len(fresh)),
	)

	for _, s := range fresh {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("調整処理が中断されました: %w", err)
		}
		if _, err := e.Promote(ctx, s); err != nil {
			summary.Failed++
			log.Error("求人の昇格に失敗しました",
				slog.Int64("staged_id", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		summary.Promoted++
	}
	e.collector.RecordPromoted(summary.Promoted)
	e.collector.RecordPromotionFailure(summary.Failed)

	// 参考情報として、未公開のまま残ったキーを再計算する。
	// ここでの失敗は調整結果を無効にしないため、ログに留める。
	missing, err := e.recomputeMissing(ctx, fresh)
	if err != nil {
		log.Warn("未公開キーの再計算をスキップしました",
			slog.String("error", err.Error()),
		)
	} else {
		summary.Missing = missing
	}

	log.Info("調整処理が完了しました",
		slog.Int64("pruned", summary.Pruned),
		slog.Int("promoted", summary.Promoted),
		slog.Int("failed", summary.Failed),
		slog.Int("missing", len(summary.Missing)),
	)
	return summary, nil
}

// recomputeMissing は昇格対象のうちまだ公開されていないpartner_job_idを返す。
// キーなしの行はマッチングできないため対象外。
func (e *Engine) recomputeMissing(ctx context.Context, fresh []*model.StagedPosting) ([]string, error) {
	publishedIDs, err := e.published.ListPartnerJobIDs(ctx)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, s := range fresh {
		if !s.HasPartnerJobID() {
			continue
		}
		if _, ok := publishedIDs[*s.PartnerJobID]; !ok {
			missing = append(missing, *s.PartnerJobID)
		}
	}
	return missing, nil
}
