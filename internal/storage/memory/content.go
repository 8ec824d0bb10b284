package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// ContentStore 内存内容存储，文档以序列化后的字节保存
type ContentStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
	raw  map[string][]byte
}

var (
	_ storage.ContentStore = (*ContentStore)(nil)
	_ storage.RawStore     = (*ContentStore)(nil)
)

// NewContentStore 创建内存内容存储
func NewContentStore() *ContentStore {
	return &ContentStore{
		docs: make(map[string][]byte),
		raw:  make(map[string][]byte),
	}
}

// Put 写入内容文档
func (s *ContentStore) Put(_ context.Context, path string, content *domain.EmailContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	s.mu.Lock()
	s.docs[path] = data
	s.mu.Unlock()
	return nil
}

// Get 读取内容文档
func (s *ContentStore) Get(_ context.Context, path string) (*domain.EmailContent, error) {
	s.mu.RLock()
	data, ok := s.docs[path]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	var content domain.EmailContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return &content, nil
}

// Delete 删除内容文档
func (s *ContentStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return storage.ErrNotFound
	}
	delete(s.docs, path)
	return nil
}

// Has 判断路径下是否存在文档
func (s *ContentStore) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[path]
	return ok
}

// Len 返回文档数量
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// PutRaw 保存原始邮件
func (s *ContentStore) PutRaw(_ context.Context, key string, raw []byte) error {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	s.mu.Lock()
	s.raw[key] = buf
	s.mu.Unlock()
	return nil
}

// GetRaw 读取原始邮件
func (s *ContentStore) GetRaw(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.raw[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
