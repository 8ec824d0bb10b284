package memory

import (
	"context"
	"sort"
	"sync"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Store 内存元数据存储，用于开发环境与测试。
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.EmailRecord
	// ownerID -> folder -> emailID 集合
	index map[string]map[domain.Folder]map[string]struct{}
}

var _ storage.MetadataStore = (*Store)(nil)

// NewStore 创建内存元数据存储
func NewStore() *Store {
	return &Store{
		records: make(map[string]*domain.EmailRecord),
		index:   make(map[string]map[domain.Folder]map[string]struct{}),
	}
}

// Get 根据 ID 获取记录
func (s *Store) Get(_ context.Context, emailID string) (*domain.EmailRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[emailID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// Put 创建或替换记录
func (s *Store) Put(_ context.Context, record *domain.EmailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.records[record.EmailID]; ok {
		s.unindexLocked(old)
	}
	c := record.Clone()
	s.records[c.EmailID] = c
	s.indexLocked(c)
	return nil
}

// UpdateFields 更新可变字段
func (s *Store) UpdateFields(_ context.Context, emailID string, update domain.FieldUpdate) error {
	if update.Empty() {
		return storage.ErrEmptyUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[emailID]
	if !ok {
		return storage.ErrNotFound
	}
	s.unindexLocked(r)
	update.Apply(r)
	s.indexLocked(r)
	return nil
}

// Delete 删除记录，不存在时返回 ErrNotFound
func (s *Store) Delete(_ context.Context, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[emailID]
	if !ok {
		return storage.ErrNotFound
	}
	s.unindexLocked(r)
	delete(s.records, emailID)
	return nil
}

// QueryByOwnerFolder 按时间倒序返回某用户某文件夹下的记录
func (s *Store) QueryByOwnerFolder(_ context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index[ownerID][folder]
	out := make([]*domain.EmailRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.records[id].Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].EmailID > out[j].EmailID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len 返回记录总数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping 内存存储始终可用
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) indexLocked(r *domain.EmailRecord) {
	folders, ok := s.index[r.OwnerID]
	if !ok {
		folders = make(map[domain.Folder]map[string]struct{})
		s.index[r.OwnerID] = folders
	}
	ids, ok := folders[r.Folder]
	if !ok {
		ids = make(map[string]struct{})
		folders[r.Folder] = ids
	}
	ids[r.EmailID] = struct{}{}
}

func (s *Store) unindexLocked(r *domain.EmailRecord) {
	if ids, ok := s.index[r.OwnerID][r.Folder]; ok {
		delete(ids, r.EmailID)
	}
}
