package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/statdig_server/internal/model"
)

type DetailRepository struct {
	db *gorm.DB
}

func NewDetailRepository(db *gorm.DB) *DetailRepository {
	return &DetailRepository{db: db}
}

func (r *DetailRepository) GetByHash(hash string) (*model.SampleDetail, error) {
	var detail model.SampleDetail
	err := r.db.Where("hash = ?", hash).First(&detail).Error
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (r *DetailRepository) SetReport(hash, report string) error {
	return r.db.Model(&model.SampleDetail{}).Where("hash = ?", hash).Update("full_report", report).Error
}

// AppendReport 在已有报告末尾追加内容
func (r *DetailRepository) AppendReport(hash, section string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var detail model.SampleDetail
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hash = ?", hash).First(&detail).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.SampleDetail{}).Where("hash = ?", hash).
			Update("full_report", detail.FullReport+section).Error
	})
}

func (r *DetailRepository) SetTranscript(hash, transcript string) error {
	return r.db.Model(&model.SampleDetail{}).Where("hash = ?", hash).
		Update("organiser_transcript", transcript).Error
}
