// Package model はドメインモデルを定義する。
package model

import "time"

// StagedPosting はステージングテーブル（job_postings_pre）の求人レコードを表す。
// 外部の取り込みプロセスが書き込む「アップストリームの現在の真実」であり、
// 本サービスからは読み取り専用として扱う。
type StagedPosting struct {
	ID              int64
	PartnerJobID    *string // アップストリームの自然キー。nilは「キーなし」を意味する
	Position        string
	JobDescription  string
	Company         string
	CompanyID       string
	ApplyURL        string
	Location        string
	WorkplaceTypes  string
	ExperienceLevel string
	Jobtype         string
	LastBuildDate   *time.Time // アップストリームのフィードが最後に構築された日時
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PublishedPosting は公開テーブル（job_postings）の求人レコードを表す。
// ステージングからの昇格時に生成され、フィードが直接読み取る。
// DescriptionはJobDescriptionをテキスト改善した派生物であり、コピーではない。
type PublishedPosting struct {
	ID              int64
	PartnerJobID    *string
	Position        string
	Description     string // 改善済みの求人票本文（HTML）
	Company         string
	CompanyID       string
	ApplyURL        string
	Location        string
	WorkplaceTypes  string
	ExperienceLevel string
	Jobtype         string
	LastBuildDate   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPartnerJobID は自然キーを持つかどうかを返す。
// NULLと空文字列はどちらも「キーなし」として扱う。キーなしレコード同士を
// 誤って重複と判定しないよう、呼び出し側は必ずこの判定で分岐すること。
func (p *PublishedPosting) HasPartnerJobID() bool {
	return p.PartnerJobID != nil && *p.PartnerJobID != ""
}

// HasPartnerJobID は自然キーを持つかどうかを返す。
func (s *StagedPosting) HasPartnerJobID() bool {
	return s.PartnerJobID != nil && *s.PartnerJobID != ""
}
