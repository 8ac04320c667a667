package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
)

const functionBatchSize = 200

type FunctionRepository struct {
	db *gorm.DB
}

func NewFunctionRepository(db *gorm.DB) *FunctionRepository {
	return &FunctionRepository{db: db}
}

// CreateBatch 在一个事务中写入样本的全部函数，任一失败则全部回滚
func (r *FunctionRepository) CreateBatch(functions []*model.Function) (int64, error) {
	if len(functions) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.CreateInBatches(functions, functionBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *FunctionRepository) CountBySample(hash string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Function{}).Where("sample_hash = ?", hash).Count(&count).Error
	return count, err
}

// CountBySamples 批量统计函数数量
func (r *FunctionRepository) CountBySamples(hashes []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return counts, nil
	}

	var rows []struct {
		SampleHash string
		Count      int64
	}
	err := r.db.Model(&model.Function{}).
		Select("sample_hash, COUNT(*) AS count").
		Where("sample_hash IN ?", hashes).
		Group("sample_hash").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.SampleHash] = row.Count
	}
	return counts, nil
}

// ListBySample 按函数名排序列出样本的全部函数
func (r *FunctionRepository) ListBySample(hash string) ([]*model.Function, error) {
	var functions []*model.Function
	err := r.db.Where("sample_hash = ?", hash).Order("name ASC").Find(&functions).Error
	if err != nil {
		return nil, err
	}
	return functions, nil
}

// GetByNames 按函数名排序返回指定的函数，不存在的名字被忽略
func (r *FunctionRepository) GetByNames(hash string, names []string) ([]*model.Function, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var functions []*model.Function
	err := r.db.Where("sample_hash = ? AND name IN ?", hash, names).Order("name ASC").Find(&functions).Error
	if err != nil {
		return nil, err
	}
	return functions, nil
}

// UpdateDescription 覆盖函数描述，返回受影响行数
func (r *FunctionRepository) UpdateDescription(hash, name, description string) (int64, error) {
	result := r.db.Model(&model.Function{}).
		Where("sample_hash = ? AND name = ?", hash, name).
		Update("description", description)
	return result.RowsAffected, result.Error
}
