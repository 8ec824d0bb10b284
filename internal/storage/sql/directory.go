package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// ========== Directory ==========

// LookupAddress 查找地址对应的用户 ID
func (s *Store) LookupAddress(ctx context.Context, address string) (string, error) {
	query := fmt.Sprintf(`SELECT user_id FROM directory_entries WHERE address = %s`, s.placeholder(1))

	var userID string
	err := s.db.QueryRowContext(ctx, query, strings.ToLower(address)).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return userID, nil
}

// SaveEntry 新增或覆盖目录条目
func (s *Store) SaveEntry(ctx context.Context, entry *domain.DirectoryEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var query string
	if s.driverName == "postgres" {
		query = `INSERT INTO directory_entries (address, user_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (address) DO UPDATE SET user_id = EXCLUDED.user_id`
	} else {
		query = `INSERT INTO directory_entries (address, user_id, created_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE user_id = VALUES(user_id)`
	}

	_, err := s.db.ExecContext(ctx, query, strings.ToLower(entry.Address), entry.UserID, createdAt)
	return err
}
