package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Client 基于 pgx 连接池的用户目录客户端
//
// 每次入站投递都直接查询 directory_entries 表，不做缓存。
type Client struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ storage.Directory = (*Client)(nil)

// NewClient 创建 PostgreSQL 目录客户端
func NewClient(ctx context.Context, cfg config.DirectoryConfig, dbCfg config.DatabaseConfig, log *zap.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("directory DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory DSN: %w", err)
	}
	if dbCfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(dbCfg.MaxOpenConns)
	}
	if dbCfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(dbCfg.MaxIdleConns)
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = dbCfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping directory database: %w", err)
	}

	log.Info("connected to directory database",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)

	return &Client{pool: pool, log: log}, nil
}

// LookupAddress 查找地址对应的用户 ID
func (c *Client) LookupAddress(ctx context.Context, address string) (string, error) {
	var userID string
	err := c.pool.QueryRow(ctx,
		`SELECT user_id FROM directory_entries WHERE address = $1`,
		strings.ToLower(address),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return userID, nil
}

// SaveEntry 新增或覆盖目录条目
func (c *Client) SaveEntry(ctx context.Context, entry *domain.DirectoryEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO directory_entries (address, user_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (address) DO UPDATE SET user_id = EXCLUDED.user_id`,
		strings.ToLower(entry.Address), entry.UserID, createdAt,
	)
	return err
}

// Ping 测试数据库连接
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close 关闭连接池
func (c *Client) Close() {
	c.pool.Close()
	c.log.Info("directory connection closed")
}
