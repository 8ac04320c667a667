package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/statdig_server/config"
)

// OSS 阿里云 OSS 存储，所有 key 挂在配置的前缀下
type OSS struct {
	client *oss.Client
	bucket *oss.Bucket
	prefix string
}

func NewOSS(cfg config.OSSConfig) (*OSS, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &OSS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (o *OSS) objectKey(key string) string {
	return o.prefix + key
}

func (o *OSS) Put(ctx context.Context, key string, data []byte) error {
	err := o.bucket.PutObject(o.objectKey(key), bytes.NewReader(data),
		oss.ContentType("application/octet-stream"), oss.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (o *OSS) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := o.bucket.GetObject(o.objectKey(key), oss.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (o *OSS) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := o.bucket.IsObjectExist(o.objectKey(key), oss.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return ok, nil
}

func (o *OSS) Delete(ctx context.Context, key string) error {
	if err := o.bucket.DeleteObject(o.objectKey(key), oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (o *OSS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		opts := []oss.Option{oss.Prefix(o.objectKey(prefix)), oss.WithContext(ctx)}
		if token != "" {
			opts = append(opts, oss.ContinuationToken(token))
		}
		result, err := o.bucket.ListObjectsV2(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range result.Objects {
			keys = append(keys, strings.TrimPrefix(obj.Key, o.prefix))
		}
		if !result.IsTruncated {
			break
		}
		token = result.NextContinuationToken
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var srvErr oss.ServiceError
	if errors.As(err, &srvErr) {
		return srvErr.StatusCode == http.StatusNotFound || srvErr.Code == "NoSuchKey"
	}
	return false
}
