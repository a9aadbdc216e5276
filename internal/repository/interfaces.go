// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/jobwrap/internal/model"
)

// StagedPostingRepository はステージングテーブル（job_postings_pre）の読み取りインターフェース。
// ステージングは外部の取り込みプロセスが所有するため、書き込み操作は提供しない。
type StagedPostingRepository interface {
	// ListAll は全ステージングレコードをid昇順で取得する。
	ListAll(ctx context.Context) ([]*model.StagedPosting, error)
}

// PublishedPostingRepository は公開テーブル（job_postings）の永続化インターフェース。
// 書き込みは調整エンジンと重複排除パスだけが行い、フィードは読み取りのみ。
type PublishedPostingRepository interface {
	// ListAll は全公開レコードをid昇順で取得する。フィードはこの順序で描画する。
	ListAll(ctx context.Context) ([]*model.PublishedPosting, error)

	// ListPartnerJobIDs はpartner_job_idを持つ公開レコードのキー集合を返す。
	// NULLと空文字列のキーは含めない。
	ListPartnerJobIDs(ctx context.Context) (map[string]struct{}, error)

	// Create は公開レコードを挿入し、採番されたidをp.IDに書き戻す。
	// 挿入専用であり、同一partner_job_idの既存行を確認しない（バッチ側の
	// 差分計算が唯一の重複防止で、競合時の重複は重複排除パスが解消する）。
	Create(ctx context.Context, p *model.PublishedPosting) error

	// DeleteStale はpartner_job_idがステージングに存在しなくなった公開レコードを
	// 1文のDELETEで削除し、削除件数を返す。キーなしの行は削除対象にならない。
	DeleteStale(ctx context.Context) (int64, error)

	// DeleteByIDs は指定idの公開レコードをまとめて削除し、削除件数を返す。
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	// Count は公開レコードの総数を返す。
	Count(ctx context.Context) (int, error)
}
