package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "search_summary:"

// Store 搜索摘要结果，读取一次后即删除
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore ttl 为未被读取的结果保留时长
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Put 写入摘要结果
func (s *Store) Put(ctx context.Context, jobID, summary string) error {
	if err := s.client.Set(ctx, key(jobID), summary, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	return nil
}

// Take 读取并删除；任务未完成或已被读取时 ok 为 false
func (s *Store) Take(ctx context.Context, jobID string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, key(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read summary: %w", err)
	}
	return val, true, nil
}
