package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/mailer"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/storage"
)

// 发送结果
const (
	OutcomeSent      = "sent"
	OutcomeInvalid   = "invalid"
	OutcomeTransport = "transport_error"
	OutcomeStore     = "store_error"
)

// SendResult 发送结果
type SendResult struct {
	EmailID   string `json:"emailId"`
	MessageID string `json:"messageId"`
}

// DraftResult 保存草稿结果
type DraftResult struct {
	EmailID string `json:"emailId"`
	DraftID string `json:"draftId"`
}

// Composer 出站邮件组装与发送
type Composer struct {
	meta      storage.MetadataStore
	content   storage.ContentStore
	transport mailer.Transport
	log       *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewComposer 创建 Composer，metrics 可为 nil
func NewComposer(meta storage.MetadataStore, content storage.ContentStore, transport mailer.Transport, log *zap.Logger, metrics *monitoring.Metrics) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{
		meta:      meta,
		content:   content,
		transport: transport,
		log:       log,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Send 校验请求、组装邮件并投递，成功后保存发件人的已发送副本
//
// 投递失败时不保存任何内容；投递成功但保存失败返回 ErrStoreUnavailable。
func (c *Composer) Send(ctx context.Context, sender domain.Sender, req domain.SendRequest) (*SendResult, error) {
	start := c.now()
	result, outcome, err := c.send(ctx, sender, req)
	if c.metrics != nil {
		c.metrics.RecordSend(outcome, c.now().Sub(start))
	}
	return result, err
}

func (c *Composer) send(ctx context.Context, sender domain.Sender, req domain.SendRequest) (*SendResult, string, error) {
	to := req.To.Compact()
	cc := req.Cc.Compact()
	bcc := req.Bcc.Compact()

	if err := validateSend(sender, to, cc, bcc, req.Subject); err != nil {
		return nil, OutcomeInvalid, domain.NewOpError("send", "", domain.ErrInvalidRequest, err)
	}
	subject := *req.Subject

	now := c.now().UTC()
	emailID := domain.NewEmailID(sender.UserID, now)
	attachments := DecodeAttachments(req.Attachments, c.log)
	if c.metrics != nil {
		for _, a := range attachments {
			c.metrics.RecordAttachmentSize(a.Size)
		}
	}

	raw, attachments, err := Build(Envelope{
		From:        sender.Email,
		To:          to,
		Cc:          cc,
		Subject:     subject,
		Body:        req.Body,
		Attachments: attachments,
		Date:        now,
		MessageID:   NewMessageID(sender.Email),
	}, c.log)
	if err != nil {
		return nil, OutcomeInvalid, domain.NewOpError("send", emailID, domain.ErrInvalidRequest, err)
	}

	transportID, err := c.transport.Send(ctx, sender.Email, Recipients(to, cc, bcc), raw)
	if err != nil {
		c.log.Error("failed to dispatch message",
			zap.String("user_id", sender.UserID),
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		return nil, OutcomeTransport, domain.NewOpError("send", emailID, domain.ErrTransport, err)
	}

	path := domain.ContentPath(sender.UserID, emailID)
	content := &domain.EmailContent{
		Subject:     subject,
		Body:        req.Body,
		From:        sender.Email,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Attachments: attachments,
		Timestamp:   now,
		MessageID:   transportID,
	}
	record := &domain.EmailRecord{
		EmailID:            emailID,
		OwnerID:            sender.UserID,
		From:               sender.Email,
		To:                 to,
		Cc:                 cc,
		Bcc:                bcc,
		Subject:            subject,
		Preview:            domain.MakePreview(req.Body),
		Timestamp:          now,
		Folder:             domain.FolderSent,
		Read:               true,
		HasAttachments:     len(attachments) > 0,
		ContentRef:         path,
		TransportMessageID: transportID,
	}

	if err := c.persist(ctx, path, content, record); err != nil {
		c.log.Error("message sent but not recorded",
			zap.String("user_id", sender.UserID),
			zap.String("email_id", emailID),
			zap.String("message_id", transportID),
			zap.Error(err),
		)
		return nil, OutcomeStore, domain.NewOpError("send", emailID, domain.ErrStoreUnavailable, err)
	}

	c.log.Info("message sent",
		zap.String("user_id", sender.UserID),
		zap.String("email_id", emailID),
		zap.String("message_id", transportID),
		zap.Int("recipients", len(to)+len(cc)+len(bcc)),
	)
	return &SendResult{EmailID: emailID, MessageID: transportID}, OutcomeSent, nil
}

// SaveDraft 保存或覆盖草稿
//
// 提供 draftId 时只能覆盖自己的草稿；新建草稿的 ID 必须以用户 ID 开头。
func (c *Composer) SaveDraft(ctx context.Context, sender domain.Sender, req domain.DraftRequest) (*DraftResult, error) {
	if sender.UserID == "" {
		return nil, domain.NewOpError("save_draft", "", domain.ErrInvalidRequest, errors.New("sender identity is required"))
	}

	now := c.now().UTC()
	draftID := strings.TrimSpace(req.DraftID)
	if draftID == "" {
		draftID = domain.NewDraftID(sender.UserID, now)
	} else if err := c.checkDraftOwner(ctx, sender.UserID, draftID); err != nil {
		return nil, err
	}

	attachments := DecodeAttachments(req.Attachments, c.log)
	to := req.To.Compact()
	cc := req.Cc.Compact()
	bcc := req.Bcc.Compact()
	path := domain.DraftPath(sender.UserID, draftID)

	content := &domain.EmailContent{
		Subject:     req.Subject,
		Body:        req.Body,
		From:        sender.Email,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Attachments: attachments,
		Timestamp:   now,
	}
	record := &domain.EmailRecord{
		EmailID:        draftID,
		OwnerID:        sender.UserID,
		From:           sender.Email,
		To:             to,
		Cc:             cc,
		Bcc:            bcc,
		Subject:        req.Subject,
		Preview:        domain.MakePreview(htmlText(req.Body)),
		Timestamp:      now,
		Folder:         domain.FolderDrafts,
		Read:           true,
		HasAttachments: len(attachments) > 0,
		ContentRef:     path,
		IsDraft:        true,
	}

	if err := c.persist(ctx, path, content, record); err != nil {
		c.log.Error("failed to save draft",
			zap.String("user_id", sender.UserID),
			zap.String("email_id", draftID),
			zap.Error(err),
		)
		return nil, domain.NewOpError("save_draft", draftID, domain.ErrStoreUnavailable, err)
	}
	if c.metrics != nil {
		c.metrics.RecordDraft()
	}
	return &DraftResult{EmailID: draftID, DraftID: draftID}, nil
}

func (c *Composer) checkDraftOwner(ctx context.Context, userID, draftID string) error {
	existing, err := c.meta.Get(ctx, draftID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !strings.HasPrefix(draftID, userID+"-") {
			return domain.NewOpError("save_draft", draftID, domain.ErrInvalidRequest, errors.New("draft id must start with the owner id"))
		}
		return nil
	case err != nil:
		return domain.NewOpError("save_draft", draftID, domain.ErrStoreUnavailable, err)
	case existing.OwnerID != userID:
		return domain.NewOpError("save_draft", draftID, domain.ErrForbidden, nil)
	case !existing.IsDraft:
		return domain.NewOpError("save_draft", draftID, domain.ErrInvalidRequest, errors.New("not a draft"))
	}
	return nil
}

// persist 先写内容再写记录
func (c *Composer) persist(ctx context.Context, path string, content *domain.EmailContent, record *domain.EmailRecord) error {
	if err := c.content.Put(ctx, path, content); err != nil {
		return fmt.Errorf("store content: %w", err)
	}
	if err := c.meta.Put(ctx, record); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

func validateSend(sender domain.Sender, to, cc, bcc []string, subject *string) error {
	if sender.UserID == "" || sender.Email == "" {
		return errors.New("sender identity is required")
	}
	if len(to) == 0 {
		return errors.New("to is required")
	}
	if subject == nil {
		return errors.New("subject is required")
	}
	for _, list := range [][]string{to, cc, bcc} {
		for _, addr := range list {
			if err := domain.ValidateAddress(domain.NormalizeAddress(addr)); err != nil {
				return fmt.Errorf("recipient %q: %w", addr, err)
			}
		}
	}
	return nil
}
