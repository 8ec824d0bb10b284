package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Directory 内存用户目录
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*domain.DirectoryEntry // 小写地址 -> 条目
}

var _ storage.Directory = (*Directory)(nil)

// NewDirectory 创建内存用户目录，可传入初始 address -> userId 映射
func NewDirectory(seed map[string]string) *Directory {
	d := &Directory{entries: make(map[string]*domain.DirectoryEntry, len(seed))}
	now := time.Now().UTC()
	for addr, userID := range seed {
		key := strings.ToLower(addr)
		d.entries[key] = &domain.DirectoryEntry{Address: key, UserID: userID, CreatedAt: now}
	}
	return d
}

// LookupAddress 查找地址对应的用户 ID
func (d *Directory) LookupAddress(_ context.Context, address string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[strings.ToLower(address)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return e.UserID, nil
}

// SaveEntry 新增或覆盖目录条目
func (d *Directory) SaveEntry(_ context.Context, entry *domain.DirectoryEntry) error {
	e := *entry
	e.Address = strings.ToLower(e.Address)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	d.mu.Lock()
	d.entries[e.Address] = &e
	d.mu.Unlock()
	return nil
}
