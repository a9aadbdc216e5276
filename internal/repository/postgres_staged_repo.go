package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/jobwrap/internal/model"
)

// PostgresStagedPostingRepo はPostgreSQLを使用したステージングリポジトリ。
type PostgresStagedPostingRepo struct {
	db *sql.DB
}

// NewPostgresStagedPostingRepo はPostgresStagedPostingRepoを生成する。
func NewPostgresStagedPostingRepo(db *sql.DB) *PostgresStagedPostingRepo {
	return &PostgresStagedPostingRepo{db: db}
}

// ListAll は全ステージングレコードをid昇順で取得する。
func (r *PostgresStagedPostingRepo) ListAll(ctx context.Context) ([]*model.StagedPosting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, partner_job_id, position, job_description, company, company_id,
		        apply_url, location, workplace_types, experience_level, jobtype,
		        last_build_date, created_at, updated_at
		 FROM job_postings_pre
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ステージングレコードの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var postings []*model.StagedPosting
	for rows.Next() {
		p := &model.StagedPosting{}
		var partnerJobID, jobDescription, company, companyID sql.NullString
		var applyURL, location, workplaceTypes, experienceLevel, jobtype sql.NullString
		var lastBuildDate sql.NullTime

		if err := rows.Scan(
			&p.ID, &partnerJobID, &p.Position, &jobDescription, &company, &companyID,
			&applyURL, &location, &workplaceTypes, &experienceLevel, &jobtype,
			&lastBuildDate, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ステージングレコード行の読み取りに失敗しました: %w", err)
		}

		p.PartnerJobID = nullStringPtr(partnerJobID)
		p.JobDescription = nullStringValue(jobDescription)
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

		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ステージングレコードの走査に失敗しました: %w", err)
	}

	return postings, nil
}

// compile-time interface check
var _ StagedPostingRepository = (*PostgresStagedPostingRepo)(nil)
