package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/jobwrap/internal/model"
)

// PostgresPublishedPostingRepo はPostgreSQLを使用した公開リポジトリ。
type PostgresPublishedPostingRepo struct {
	db *sql.DB
}

// NewPostgresPublishedPostingRepo はPostgresPublishedPostingRepoを生成する。
func NewPostgresPublishedPostingRepo(db *sql.DB) *PostgresPublishedPostingRepo {
	return &PostgresPublishedPostingRepo{db: db}
}

// ListAll は全公開レコードをid昇順で取得する。
func (r *PostgresPublishedPostingRepo) ListAll(ctx context.Context) ([]*model.PublishedPosting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, partner_job_id, position, description, company, company_id,
		        apply_url, location, workplace_types, experience_level, jobtype,
		        last_build_date, created_at, updated_at
		 FROM job_postings
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("公開レコードの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var postings []*model.PublishedPosting
	for rows.Next() {
		p, err := scanPublishedPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開レコードの走査に失敗しました: %w", err)
	}

	return postings, nil
}

// scanPublishedPosting は1行分の公開レコードを読み取る。
func scanPublishedPosting(rows *sql.Rows) (*model.PublishedPosting, error) {
	p := &model.PublishedPosting{}
	var partnerJobID, description, company, companyID sql.NullString
	var applyURL, location, workplaceTypes, experienceLevel, jobtype sql.NullString
	var lastBuildDate sql.NullTime

	if err := rows.Scan(
		&p.ID, &partnerJobID, &p.Position, &description, &company, &companyID,
		&applyURL, &location, &workplaceTypes, &experienceLevel, &jobtype,
		&lastBuildDate, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("公開レコード行の読み取りに失敗しました: %w", err)
	}

	p.PartnerJobID = nullStringPtr(partnerJobID)
	p.Description = nullStringValue(description)
	p.Company = nullStringValue(company)
	p.CompanyID = nullStringValue(companyID)
	p.ApplyURL = nullStringValue(applyURL)
	p.Location = nullStringValue(location)
	p.WorkplaceTypes = nullStringValue(workplaceTypes)
	p.ExperienceLevel = nullStringValue(experienceLevel)
	p.Jobtype = nullStringValue(jobtype)
	if lastBuildDate.Valid {
		t := lastBuildDate.Time
		p.LastBuildDate = &t
	}

	return p, nil
}

// ListPartnerJobIDs はpartner_job_idを持つ公開レコードのキー集合を返す。
func (r *PostgresPublishedPostingRepo) ListPartnerJobIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT partner_job_id FROM job_postings
		 WHERE partner_job_id IS NOT NULL AND partner_job_id <> ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("公開済みpartner_job_id集合の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("partner_job_id行の読み取りに失敗しました: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partner_job_id集合の走査に失敗しました: %w", err)
	}

	return ids, nil
}

// Create は公開レコードを挿入し、採番されたidをp.IDに書き戻す。
// 単一のINSERT文のため、それ自体が1件分のアトミックな作業単位になる。
func (r *PostgresPublishedPostingRepo) Create(ctx context.Context, p *model.PublishedPosting) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_postings
		    (partner_job_id, position, description, company, company_id,
		     apply_url, location, workplace_types, experience_level, jobtype,
		     last_build_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		 RETURNING id, created_at, updated_at`,
		ptrNullString(p.PartnerJobID), p.Position, nullString(p.Description),
		nullString(p.Company), nullString(p.CompanyID), nullString(p.ApplyURL),
		nullString(p.Location), nullString(p.WorkplaceTypes),
		nullString(p.ExperienceLevel), nullString(p.Jobtype), p.LastBuildDate,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("公開レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteStale はステージングに自然キーが存在しなくなった公開レコードを削除する。
// キーなし（NULL・空文字列）の行はマッチングできないため削除しない。
// 1文のDELETEで実行するため、読み取り側はread-committedの範囲で
// 削除前か削除後のどちらかの状態だけを観測する。
func (r *PostgresPublishedPostingRepo) DeleteStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM job_postings p
		 WHERE p.partner_job_id IS NOT NULL AND p.partner_job_id <> ''
		   AND NOT EXISTS (
		       SELECT 1 FROM job_postings_pre s
		       WHERE s.partner_job_id = p.partner_job_id
		   )`,
	)
	if err != nil {
		return 0, fmt.Errorf("古い公開レコードの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// DeleteByIDs は指定idの公開レコードをまとめて削除し、削除件数を返す。
func (r *PostgresPublishedPostingRepo) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM job_postings WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("公開レコードのID指定削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// Count は公開レコードの総数を返す。
func (r *PostgresPublishedPostingRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM job_postings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("公開レコード数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ PublishedPostingRepository = (*PostgresPublishedPostingRepo)(nil)
