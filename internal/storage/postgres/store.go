package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Store 基于 GORM 的元数据存储，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

var (
	_ storage.MetadataStore = (*Store)(nil)
	_ storage.Directory     = (*Store)(nil)
)

// NewStore 按数据库配置创建存储，Type 为 "postgres" 或 "mysql"
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	return NewStoreWithDialector(dialector, cfg)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{db: db}, nil
}

// Migrate 自动迁移邮件元数据与用户目录表
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.EmailRecord{},
		&domain.DirectoryEntry{},
	)
}

// Get 根据 ID 获取记录
func (s *Store) Get(ctx context.Context, emailID string) (*domain.EmailRecord, error) {
	var record domain.EmailRecord
	err := s.db.WithContext(ctx).Where("email_id = ?", emailID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	record.Timestamp = record.Timestamp.UTC()
	return &record, nil
}

// Put 创建或替换记录
func (s *Store) Put(ctx context.Context, record *domain.EmailRecord) error {
	return s.db.WithContext(ctx).Save(record).Error
}

// UpdateFields 只更新 folder、read、starred
func (s *Store) UpdateFields(ctx context.Context, emailID string, update domain.FieldUpdate) error {
	if update.Empty() {
		return storage.ErrEmptyUpdate
	}

	values := make(map[string]interface{}, 3)
	if update.Folder != nil {
		values["folder"] = string(*update.Folder)
	}
	if update.Read != nil {
		values["read"] = *update.Read
	}
	if update.Starred != nil {
		values["starred"] = *update.Starred
	}

	result := s.db.WithContext(ctx).
		Model(&domain.EmailRecord{}).
		Where("email_id = ?", emailID).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 在值未变化时同样返回 0 行
		return s.ensureExists(ctx, emailID)
	}
	return nil
}

// Delete 删除记录
func (s *Store) Delete(ctx context.Context, emailID string) error {
	result := s.db.WithContext(ctx).Where("email_id = ?", emailID).Delete(&domain.EmailRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// QueryByOwnerFolder 按时间倒序查询
func (s *Store) QueryByOwnerFolder(ctx context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error) {
	var records []*domain.EmailRecord
	q := s.db.WithContext(ctx).
		Where("owner_id = ? AND folder = ?", ownerID, string(folder)).
		Order("timestamp DESC").
		Order("email_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	for _, r := range records {
		r.Timestamp = r.Timestamp.UTC()
	}
	return records, nil
}

// LookupAddress 在 directory_entries 表中查找地址
func (s *Store) LookupAddress(ctx context.Context, address string) (string, error) {
	var entry domain.DirectoryEntry
	err := s.db.WithContext(ctx).Where("address = ?", strings.ToLower(address)).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return entry.UserID, nil
}

// SaveEntry 新增或覆盖目录条目
func (s *Store) SaveEntry(ctx context.Context, entry *domain.DirectoryEntry) error {
	e := *entry
	e.Address = strings.ToLower(e.Address)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(&e).Error
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ensureExists(ctx context.Context, emailID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.EmailRecord{}).Where("email_id = ?", emailID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return nil
}
