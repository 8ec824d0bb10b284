// Package service 邮箱查询与变更操作
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// 列表数量限制
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// DeleteOutcome 删除操作的结果
type DeleteOutcome string

const (
	// OutcomeTrashed 邮件被移入回收站
	OutcomeTrashed DeleteOutcome = "trashed"
	// OutcomeDeleted 邮件被永久删除
	OutcomeDeleted DeleteOutcome = "deleted"
)

// MailboxService 邮箱读取与变更，所有按 ID 的操作都先做归属校验
type MailboxService struct {
	meta    storage.MetadataStore
	content storage.ContentStore
	log     *zap.Logger
}

// NewMailboxService 创建邮箱服务
func NewMailboxService(meta storage.MetadataStore, content storage.ContentStore, log *zap.Logger) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxService{meta: meta, content: content, log: log}
}

// List 按时间倒序列出某文件夹下的邮件摘要，不包含正文与附件
func (s *MailboxService) List(ctx context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error) {
	if folder == "" {
		folder = domain.FolderInbox
	}
	if !folder.Valid() {
		return nil, domain.NewOpError("list", "", domain.ErrInvalidRequest, errors.New("unknown folder "+string(folder)))
	}
	limit = clampLimit(limit)

	records, err := s.meta.QueryByOwnerFolder(ctx, ownerID, folder, limit)
	if err != nil {
		return nil, domain.NewOpError("list", "", domain.ErrStoreUnavailable, err)
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Fetch 读取完整邮件；内容读取失败时返回空正文并记录日志
func (s *MailboxService) Fetch(ctx context.Context, ownerID, emailID string) (*domain.EmailView, error) {
	record, err := s.authorize(ctx, "fetch", ownerID, emailID)
	if err != nil {
		return nil, err
	}

	view := &domain.EmailView{EmailRecord: record, Attachments: []domain.Attachment{}}
	content, err := s.content.Get(ctx, record.ContentRef)
	if err != nil {
		s.log.Warn("failed to read content",
			zap.String("email_id", emailID),
			zap.String("content_ref", record.ContentRef),
			zap.Error(err),
		)
		return view, nil
	}
	view.Body = content.Body
	if content.Attachments != nil {
		view.Attachments = content.Attachments
	}
	return view, nil
}

// SetStarred 设置星标，幂等
func (s *MailboxService) SetStarred(ctx context.Context, ownerID, emailID string, starred bool) error {
	return s.update(ctx, "set_starred", ownerID, emailID, domain.SetStarred(starred))
}

// SetRead 设置已读状态，幂等
func (s *MailboxService) SetRead(ctx context.Context, ownerID, emailID string, read bool) error {
	return s.update(ctx, "set_read", ownerID, emailID, domain.SetRead(read))
}

// DeleteOrTrash 不在回收站的邮件移入回收站，已在回收站的永久删除
//
// 永久删除先删记录再删内容；内容删除失败只记录日志。
func (s *MailboxService) DeleteOrTrash(ctx context.Context, ownerID, emailID string) (DeleteOutcome, error) {
	record, err := s.authorize(ctx, "delete", ownerID, emailID)
	if err != nil {
		return "", err
	}

	if record.Folder != domain.FolderTrash {
		if err := s.meta.UpdateFields(ctx, emailID, domain.MoveTo(domain.FolderTrash)); err != nil {
			return "", storeError("delete", emailID, err)
		}
		return OutcomeTrashed, nil
	}

	if err := s.meta.Delete(ctx, emailID); err != nil {
		return "", storeError("delete", emailID, err)
	}
	if err := s.content.Delete(ctx, record.ContentRef); err != nil {
		s.log.Warn("failed to delete content, leaving orphan",
			zap.String("email_id", emailID),
			zap.String("content_ref", record.ContentRef),
			zap.Error(err),
		)
	}
	return OutcomeDeleted, nil
}

func (s *MailboxService) update(ctx context.Context, op, ownerID, emailID string, u domain.FieldUpdate) error {
	if _, err := s.authorize(ctx, op, ownerID, emailID); err != nil {
		return err
	}
	if err := s.meta.UpdateFields(ctx, emailID, u); err != nil {
		return storeError(op, emailID, err)
	}
	return nil
}

// authorize 每次都重新读取记录，不存在返回 NotFound，归属不符返回 Forbidden
func (s *MailboxService) authorize(ctx context.Context, op, ownerID, emailID string) (*domain.EmailRecord, error) {
	if emailID == "" {
		return nil, domain.NewOpError(op, "", domain.ErrInvalidRequest, errors.New("email id is required"))
	}
	record, err := s.meta.Get(ctx, emailID)
	if err != nil {
		return nil, storeError(op, emailID, err)
	}
	if record.OwnerID != ownerID {
		s.log.Warn("ownership check failed",
			zap.String("op", op),
			zap.String("email_id", emailID),
			zap.String("user_id", ownerID),
		)
		return nil, domain.NewOpError(op, emailID, domain.ErrForbidden, nil)
	}
	return record, nil
}

func storeError(op, emailID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.NewOpError(op, emailID, domain.ErrNotFound, nil)
	case errors.Is(err, storage.ErrEmptyUpdate):
		return domain.NewOpError(op, emailID, domain.ErrInvalidRequest, err)
	default:
		return domain.NewOpError(op, emailID, domain.ErrStoreUnavailable, err)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
