package repository

import (
	"context"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
)

const (
	DialectTiDB  = "tidb"
	DialectBasic = "basic"

	basicCandidateLimit = 200
)

// FunctionHit 函数检索结果
type FunctionHit struct {
	SampleHash  string
	Name        string
	Description string
	Source      string
	Score       float64
}

// SampleHit 样本检索结果
type SampleHit struct {
	Hash            string
	Filename        string
	FileType        string
	FileDescription string
	Overview        string
	Malicious       *string
	Stage           model.Stage
	Score           float64
}

// SearchRepository 检索后端。tidb 方言使用向量距离与全文检索函数，
// basic 方言（MySQL / SQLite）使用 LIKE 匹配并在内存中按命中词比例打分。
type SearchRepository struct {
	db         *gorm.DB
	dialect    string
	embedModel string
}

func NewSearchRepository(db *gorm.DB, dialect, embedModel string) *SearchRepository {
	if dialect == "" {
		dialect = DialectBasic
	}
	return &SearchRepository{db: db, dialect: dialect, embedModel: embedModel}
}

func (r *SearchRepository) Dialect() string {
	return r.dialect
}

// SemanticFunctions 按描述的语义相似度检索函数
func (r *SearchRepository) SemanticFunctions(ctx context.Context, query string, limit int) ([]*FunctionHit, error) {
	if r.dialect != DialectTiDB {
		return r.basicFunctions(ctx, query, limit)
	}

	var hits []*FunctionHit
	err := r.semanticFunctionsQuery(r.db.WithContext(ctx), query, limit).Scan(&hits).Error
	return hits, err
}

// SemanticSamples 按概述的语义相似度检索样本
func (r *SearchRepository) SemanticSamples(ctx context.Context, query string, limit int) ([]*SampleHit, error) {
	if r.dialect != DialectTiDB {
		return r.basicSamples(ctx, query, limit)
	}

	var hits []*SampleHit
	err := r.semanticSamplesQuery(r.db.WithContext(ctx), query, limit).Scan(&hits).Error
	return hits, err
}

// ExactFunctions 全文匹配函数描述
func (r *SearchRepository) ExactFunctions(ctx context.Context, query string, limit int) ([]*FunctionHit, error) {
	if r.dialect != DialectTiDB {
		return r.basicFunctions(ctx, query, limit)
	}

	var hits []*FunctionHit
	err := r.exactFunctionsQuery(r.db.WithContext(ctx), query, limit).Scan(&hits).Error
	return hits, err
}

// ExactSamples 全文匹配样本概述
func (r *SearchRepository) ExactSamples(ctx context.Context, query string, limit int) ([]*SampleHit, error) {
	if r.dialect != DialectTiDB {
		return r.basicSamples(ctx, query, limit)
	}

	var hits []*SampleHit
	err := r.exactSamplesQuery(r.db.WithContext(ctx), query, limit).Scan(&hits).Error
	return hits, err
}

func (r *SearchRepository) semanticFunctionsQuery(tx *gorm.DB, query string, limit int) *gorm.DB {
	return tx.Raw(`
		SELECT sample_hash, name, description, source,
		       1 - VEC_COSINE_DISTANCE(`+functionVecColumn+`, EMBED_TEXT(?, ?)) AS score
		FROM functions
		WHERE description != ?
		ORDER BY score DESC
		LIMIT ?`,
		r.embedModel, query, model.UnindexedString, limit,
	)
}

func (r *SearchRepository) semanticSamplesQuery(tx *gorm.DB, query string, limit int) *gorm.DB {
	return tx.Raw(`
		SELECT hash, filename, file_type, file_description, overview, malicious, stage,
		       1 - VEC_COSINE_DISTANCE(`+sampleVecColumn+`, EMBED_TEXT(?, ?)) AS score
		FROM samples
		WHERE overview != ?
		ORDER BY score DESC
		LIMIT ?`,
		r.embedModel, query, model.UnindexedString, limit,
	)
}

func (r *SearchRepository) exactFunctionsQuery(tx *gorm.DB, query string, limit int) *gorm.DB {
	return tx.Raw(`
		SELECT sample_hash, name, description, source,
		       fts_match_word(?, description) AS score
		FROM functions
		WHERE fts_match_word(?, description) AND description != ?
		ORDER BY fts_match_word(?, description) DESC
		LIMIT ?`,
		query, query, model.UnindexedString, query, limit,
	)
}

func (r *SearchRepository) exactSamplesQuery(tx *gorm.DB, query string, limit int) *gorm.DB {
	return tx.Raw(`
		SELECT hash, filename, file_type, file_description, overview, malicious, stage,
		       fts_match_word(?, overview) AS score
		FROM samples
		WHERE fts_match_word(?, overview) AND overview != ?
		ORDER BY fts_match_word(?, overview) DESC
		LIMIT ?`,
		query, query, model.UnindexedString, query, limit,
	)
}

func (r *SearchRepository) basicFunctions(ctx context.Context, query string, limit int) ([]*FunctionHit, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	tx := r.db.WithContext(ctx).Model(&model.Function{}).
		Select("sample_hash, name, description, source").
		Where("description != ?", model.UnindexedString)
	tx = tx.Where(likeAny(r.db, "description", terms))

	var hits []*FunctionHit
	if err := tx.Limit(basicCandidateLimit).Scan(&hits).Error; err != nil {
		return nil, err
	}

	for _, h := range hits {
		h.Score = termScore(h.Description, terms)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *SearchRepository) basicSamples(ctx context.Context, query string, limit int) ([]*SampleHit, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	tx := r.db.WithContext(ctx).Model(&model.Sample{}).
		Select("hash, filename, file_type, file_description, overview, malicious, stage").
		Where("overview != ?", model.UnindexedString)
	tx = tx.Where(likeAny(r.db, "overview", terms))

	var hits []*SampleHit
	if err := tx.Limit(basicCandidateLimit).Scan(&hits).Error; err != nil {
		return nil, err
	}

	for _, h := range hits {
		h.Score = termScore(h.Overview, terms)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// likeAny 构造 (col LIKE ? OR col LIKE ? ...) 条件
func likeAny(db *gorm.DB, column string, terms []string) *gorm.DB {
	cond := db.Session(&gorm.Session{NewDB: true})
	for i, term := range terms {
		if i == 0 {
			cond = cond.Where(column+" LIKE ?", "%"+term+"%")
		} else {
			cond = cond.Or(column+" LIKE ?", "%"+term+"%")
		}
	}
	return cond
}

func searchTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// termScore 命中词占查询词的比例，范围 [0,1]
func termScore(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
