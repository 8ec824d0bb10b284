package storage

import (
	"context"
	"errors"

	"vmail/backend/internal/domain"
)

var (
	// ErrNotFound 记录或对象不存在
	ErrNotFound = errors.New("not found")
	// ErrEmptyUpdate 更新请求未包含任何可变字段
	ErrEmptyUpdate = errors.New("update names no mutable field")
)

// MetadataStore 邮件元数据存储
//
// 以 emailId 为主键，另有按 (ownerId, folder) 分区、按时间倒序的二级索引。
// 单条写入是原子的，与 ContentStore 之间没有事务。
type MetadataStore interface {
	Get(ctx context.Context, emailID string) (*domain.EmailRecord, error)
	Put(ctx context.Context, record *domain.EmailRecord) error
	UpdateFields(ctx context.Context, emailID string, update domain.FieldUpdate) error
	Delete(ctx context.Context, emailID string) error
	QueryByOwnerFolder(ctx context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error)
}

// ContentStore 邮件内容文档存储，按路径寻址
type ContentStore interface {
	Put(ctx context.Context, path string, content *domain.EmailContent) error
	Get(ctx context.Context, path string) (*domain.EmailContent, error)
	Delete(ctx context.Context, path string) error
}

// RawStore 入站原始邮件对象存储
type RawStore interface {
	PutRaw(ctx context.Context, key string, raw []byte) error
	GetRaw(ctx context.Context, key string) ([]byte, error)
}

// Directory 用户目录，地址解析的数据来源
type Directory interface {
	LookupAddress(ctx context.Context, address string) (string, error)
	SaveEntry(ctx context.Context, entry *domain.DirectoryEntry) error
}

// Pinger 可做健康检查的存储
type Pinger interface {
	Ping(ctx context.Context) error
}
