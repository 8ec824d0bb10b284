// Package resolver 将收件地址解析为用户 ID
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// AddressResolver 地址解析接口
//
// ok=false 表示地址不属于任何用户；err 非空表示目录暂不可用。
type AddressResolver interface {
	Resolve(ctx context.Context, address string) (userID string, ok bool, err error)
}

// DirectoryResolver 基于用户目录的解析器，每次都查询目录
type DirectoryResolver struct {
	dir storage.Directory
	log *zap.Logger
}

var _ AddressResolver = (*DirectoryResolver)(nil)

// New 创建解析器
func New(dir storage.Directory, log *zap.Logger) *DirectoryResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryResolver{dir: dir, log: log}
}

// Resolve 解析地址，接受 "Name <addr>" 形式，大小写不敏感
func (r *DirectoryResolver) Resolve(ctx context.Context, address string) (string, bool, error) {
	normalized := domain.NormalizeAddress(address)
	if normalized == "" {
		return "", false, nil
	}

	userID, err := r.dir.LookupAddress(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.log.Debug("address not in directory", zap.String("address", normalized))
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve %s: %w", normalized, err)
	}
	return userID, true, nil
}
