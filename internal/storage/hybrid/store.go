package hybrid

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/redis"
)

// Store 混合存储实现，数据库为权威数据源，Redis 缓存单条记录
//
// 缓存故障只记录日志，不影响读写结果。
type Store struct {
	db    storage.MetadataStore
	cache *redis.RecordCache
	log   *zap.Logger
}

var _ storage.MetadataStore = (*Store)(nil)

// NewStore 创建混合存储实例
func NewStore(db storage.MetadataStore, cache *redis.RecordCache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, cache: cache, log: log}
}

// Get 先查缓存，未命中时回源数据库并回填
func (s *Store) Get(ctx context.Context, emailID string) (*domain.EmailRecord, error) {
	record, err := s.cache.Get(ctx, emailID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("record cache read failed", zap.String("email_id", emailID), zap.Error(err))
	}

	record, err = s.db.Get(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, record); err != nil {
		s.log.Warn("record cache fill failed", zap.String("email_id", emailID), zap.Error(err))
	}
	return record, nil
}

// Put 写入数据库并使缓存失效
func (s *Store) Put(ctx context.Context, record *domain.EmailRecord) error {
	if err := s.db.Put(ctx, record); err != nil {
		return err
	}
	s.invalidate(ctx, record.EmailID)
	return nil
}

// UpdateFields 更新数据库并使缓存失效
func (s *Store) UpdateFields(ctx context.Context, emailID string, update domain.FieldUpdate) error {
	if err := s.db.UpdateFields(ctx, emailID, update); err != nil {
		return err
	}
	s.invalidate(ctx, emailID)
	return nil
}

// Delete 删除数据库记录并使缓存失效
func (s *Store) Delete(ctx context.Context, emailID string) error {
	err := s.db.Delete(ctx, emailID)
	s.invalidate(ctx, emailID)
	return err
}

// QueryByOwnerFolder 列表查询不缓存
func (s *Store) QueryByOwnerFolder(ctx context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error) {
	return s.db.QueryByOwnerFolder(ctx, ownerID, folder, limit)
}

// Ping 检查底层数据库
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.db.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, emailID string) {
	if err := s.cache.Invalidate(ctx, emailID); err != nil {
		s.log.Warn("record cache invalidation failed", zap.String("email_id", emailID), zap.Error(err))
	}
}
