package repository

import (
	"crypto/rand"
	"errors"
	"math/big"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/statdig_server/internal/model"
)

const tagIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTagID 生成 8 位字母数字标签 ID
func NewTagID() string {
	b := make([]byte, 8)
	max := big.NewInt(int64(len(tagIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = tagIDAlphabet[n.Int64()]
	}
	return string(b)
}

type TagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{db: db}
}

// List 按 ID 排序列出全部标签
func (r *TagRepository) List() ([]*model.Tag, error) {
	var tags []*model.Tag
	if err := r.db.Order("id ASC").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *TagRepository) GetByContent(content string) (*model.Tag, error) {
	var tag model.Tag
	err := r.db.Where("content = ?", content).First(&tag).Error
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// FindOrCreate 内容完全相同的标签直接复用，否则以新 ID 创建
func (r *TagRepository) FindOrCreate(content string) (*model.Tag, bool, error) {
	tag, err := r.GetByContent(content)
	if err == nil {
		return tag, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	tag = &model.Tag{ID: NewTagID(), Content: content}
	if err := r.db.Create(tag).Error; err != nil {
		// 并发创建了同内容标签时回读
		if existing, findErr := r.GetByContent(content); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return tag, true, nil
}

// LinkSample 关联标签与样本，重复关联静默忽略
func (r *TagRepository) LinkSample(tagID, hash string) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.TagSample{TagID: tagID, SampleHash: hash}).Error
}

// ListBySamples 批量查询样本的标签
func (r *TagRepository) ListBySamples(hashes []string) (map[string][]model.Tag, error) {
	result := make(map[string][]model.Tag, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	var rows []struct {
		SampleHash string
		ID         string
		Content    string
	}
	err := r.db.Table("tag_samples").
		Select("tag_samples.sample_hash, tags.id, tags.content").
		Joins("JOIN tags ON tags.id = tag_samples.tag_id").
		Where("tag_samples.sample_hash IN ?", hashes).
		Order("tags.content ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.SampleHash] = append(result[row.SampleHash], model.Tag{ID: row.ID, Content: row.Content})
	}
	return result, nil
}
