package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

// ErrStageConflict 条件更新未命中：样本阶段已被其他请求改变
var ErrStageConflict = apperr.New(apperr.KindConflict, "样本阶段已变化，请刷新后重试")

type SampleRepository struct {
	db *gorm.DB
}

func NewSampleRepository(db *gorm.DB) *SampleRepository {
	return &SampleRepository{db: db}
}

func (r *SampleRepository) Create(sample *model.Sample) error {
	return r.db.Create(sample).Error
}

// CreateWithDetail 同一事务内创建样本及其详情行
func (r *SampleRepository) CreateWithDetail(sample *model.Sample, detail *model.SampleDetail) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sample).Error; err != nil {
			return err
		}
		detail.Hash = sample.Hash
		return tx.Create(detail).Error
	})
}

func (r *SampleRepository) GetByHash(hash string) (*model.Sample, error) {
	var sample model.Sample
	err := r.db.Where("hash = ?", hash).First(&sample).Error
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (r *SampleRepository) Exists(hash string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Sample{}).Where("hash = ?", hash).Count(&count).Error
	return count > 0, err
}

// List 按上传时间倒序列出样本
func (r *SampleRepository) List() ([]*model.Sample, error) {
	var samples []*model.Sample
	err := r.db.Preload("Uploader").Order("created_at DESC").Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// ListHashes 列出全部样本哈希
func (r *SampleRepository) ListHashes() ([]string, error) {
	var hashes []string
	err := r.db.Model(&model.Sample{}).Pluck("hash", &hashes).Error
	return hashes, err
}

func (r *SampleRepository) UpdateFields(hash string, fields map[string]interface{}) error {
	return r.db.Model(&model.Sample{}).Where("hash = ?", hash).Updates(fields).Error
}

// TransitionStage 仅当当前阶段为 from 时切换到 to，未命中返回 ErrStageConflict
func (r *SampleRepository) TransitionStage(hash string, from, to model.Stage, fields map[string]interface{}) error {
	updates := map[string]interface{}{"stage": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.Model(&model.Sample{}).
		Where("hash = ? AND stage = ?", hash, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// Touch 仅当样本仍处于 stage 时刷新 updated_at，未命中返回 ErrStageConflict
func (r *SampleRepository) Touch(hash string, stage model.Stage) error {
	result := r.db.Model(&model.Sample{}).
		Where("hash = ? AND stage = ?", hash, stage).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// ListStuck 查询停留在进行中阶段且长时间未更新的样本
func (r *SampleRepository) ListStuck(stages []model.Stage, before time.Time) ([]*model.Sample, error) {
	var samples []*model.Sample
	err := r.db.Where("stage IN ? AND updated_at < ?", stages, before).Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}

func (r *SampleRepository) SetVerdict(hash, verdict string) error {
	return r.db.Model(&model.Sample{}).Where("hash = ?", hash).Update("malicious", verdict).Error
}

func (r *SampleRepository) SetOverview(hash, overview string) error {
	return r.db.Model(&model.Sample{}).Where("hash = ?", hash).Update("overview", overview).Error
}
