package repository

import (
	"context"
	"fmt"
)

const (
	functionVecColumn = "description_vec"
	sampleVecColumn   = "overview_vec"

	functionFTSIndex = "idx_functions_description_fts"
	sampleFTSIndex   = "idx_samples_overview_fts"

	defaultEmbedDimensions = 1024
)

// SchemaChange tidb 方言检索依赖的一项表结构：向量生成列或全文索引
type SchemaChange struct {
	Table  string
	Column string // 为空时是索引
	Index  string
	SQL    string
}

// TiDBSearchSchema 检索所需的生成向量列与全文索引，AutoMigrate 不会创建这些对象
func TiDBSearchSchema(embedModel string, dimensions int) []SchemaChange {
	if dimensions <= 0 {
		dimensions = defaultEmbedDimensions
	}
	vec := func(table, column, source string) SchemaChange {
		return SchemaChange{
			Table:  table,
			Column: column,
			SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s VECTOR(%d) GENERATED ALWAYS AS (EMBED_TEXT('%s', %s)) STORED",
				table, column, dimensions, embedModel, source),
		}
	}
	fts := func(table, index, source string) SchemaChange {
		return SchemaChange{
			Table: table,
			Index: index,
			SQL:   fmt.Sprintf("ALTER TABLE %s ADD FULLTEXT INDEX %s (%s) WITH PARSER MULTILINGUAL", table, index, source),
		}
	}
	return []SchemaChange{
		vec("functions", functionVecColumn, "description"),
		vec("samples", sampleVecColumn, "overview"),
		fts("functions", functionFTSIndex, "description"),
		fts("samples", sampleFTSIndex, "overview"),
	}
}

// EnsureSchema tidb 方言下补齐缺失的向量列和全文索引；basic 方言无需额外结构
func (r *SearchRepository) EnsureSchema(ctx context.Context, dimensions int) ([]string, error) {
	if r.dialect != DialectTiDB {
		return nil, nil
	}

	db := r.db.WithContext(ctx)
	migrator := db.Migrator()
	var applied []string
	for _, change := range TiDBSearchSchema(r.embedModel, dimensions) {
		var exists bool
		if change.Column != "" {
			exists = migrator.HasColumn(change.Table, change.Column)
		} else {
			exists = migrator.HasIndex(change.Table, change.Index)
		}
		if exists {
			continue
		}
		if err := db.Exec(change.SQL).Error; err != nil {
			return applied, fmt.Errorf("failed to apply search schema on %s: %w", change.Table, err)
		}
		applied = append(applied, change.SQL)
	}
	return applied, nil
}
