// Package s3 基于 S3 的内容文档与原始邮件存储
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// API Store 用到的 S3 操作
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store S3 存储，对象键即内容路径
//
// S3 删除不区分对象是否存在，Delete 对缺失的对象不报错。
type Store struct {
	client API
	bucket string
	log    *zap.Logger
}

var (
	_ storage.ContentStore = (*Store)(nil)
	_ storage.RawStore     = (*Store)(nil)
)

// NewFromConfig 使用 AWS 配置创建 S3 存储
func NewFromConfig(awsCfg aws.Config, endpoint *string, usePathStyle bool, bucket string, log *zap.Logger) (*Store, error) {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
			o.UsePathStyle = usePathStyle
		}
	})
	return New(client, bucket, log)
}

// New 使用指定客户端创建存储
func New(client API, bucket string, log *zap.Logger) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, bucket: bucket, log: log}, nil
}

// Put 写入内容文档
func (s *Store) Put(ctx context.Context, path string, content *domain.EmailContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	return s.put(ctx, path, data, "application/json")
}

// Get 读取内容文档
func (s *Store) Get(ctx context.Context, path string) (*domain.EmailContent, error) {
	data, err := s.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var content domain.EmailContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("unmarshal content %s: %w", path, err)
	}
	return &content, nil
}

// Delete 删除内容文档
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("delete object from s3: %w", err)
	}
	s.log.Debug("deleted object from s3", zap.String("bucket", s.bucket), zap.String("key", path))
	return nil
}

// PutRaw 保存原始邮件
func (s *Store) PutRaw(ctx context.Context, key string, raw []byte) error {
	return s.put(ctx, key, raw, "message/rfc822")
}

// GetRaw 读取原始邮件
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key)
}

// Ping 检查桶是否可访问
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
