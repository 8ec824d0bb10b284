package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Store 文件系统内容存储
//
// 内容文档以 JSON 形式保存在 basePath/{path}，原始邮件保存在 basePath/{key}。
type Store struct {
	basePath string
}

var (
	_ storage.ContentStore = (*Store)(nil)
	_ storage.RawStore     = (*Store)(nil)
)

// NewStore 创建文件系统存储，确保根目录存在
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	normalized := normalizePath(basePath)
	if err := os.MkdirAll(normalized, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: normalized}, nil
}

// Put 写入内容文档
func (s *Store) Put(_ context.Context, path string, content *domain.EmailContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	return s.writeFile(path, data)
}

// Get 读取内容文档
func (s *Store) Get(_ context.Context, path string) (*domain.EmailContent, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	var content domain.EmailContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content %s: %w", path, err)
	}
	return &content, nil
}

// Delete 删除内容文档，不存在时返回 ErrNotFound
func (s *Store) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// PutRaw 保存原始邮件
func (s *Store) PutRaw(_ context.Context, key string, raw []byte) error {
	return s.writeFile(key, raw)
}

// GetRaw 读取原始邮件
func (s *Store) GetRaw(_ context.Context, key string) ([]byte, error) {
	return s.readFile(key)
}

// Ping 检查根目录可访问
func (s *Store) Ping(context.Context) error {
	_, err := os.Stat(s.basePath)
	return err
}

func (s *Store) resolve(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid content path: %w", err)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// writeFile 先写临时文件再重命名，读者不会看到写了一半的文档
func (s *Store) writeFile(key string, data []byte) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

func (s *Store) readFile(key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}
