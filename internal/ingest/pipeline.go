package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/notify"
	"vmail/backend/internal/resolver"
	"vmail/backend/internal/storage"
)

// RecipientResult 单个收件人的处理结果
type RecipientResult struct {
	Address string
	UserID  string
	EmailID string
	Err     error
}

// IngestReport 一封入站邮件的处理报告
type IngestReport struct {
	MessageID  string
	Recipients []RecipientResult
	Unresolved []string
}

// Dropped 没有任何收件人被解析时邮件被丢弃
func (r *IngestReport) Dropped() bool {
	return len(r.Recipients) == 0
}

// Stored 成功落库的收件人数
func (r *IngestReport) Stored() int {
	n := 0
	for _, rr := range r.Recipients {
		if rr.Err == nil {
			n++
		}
	}
	return n
}

// Failed 失败的收件人数
func (r *IngestReport) Failed() int {
	return len(r.Recipients) - r.Stored()
}

// PartialIngestionError 部分或全部收件人处理失败
type PartialIngestionError struct {
	Report *IngestReport
}

func (e *PartialIngestionError) Error() string {
	return fmt.Sprintf("%d of %d recipients failed", e.Report.Failed(), len(e.Report.Recipients))
}

// Unwrap 暴露各收件人的失败原因
func (e *PartialIngestionError) Unwrap() []error {
	var errs []error
	for _, rr := range e.Report.Recipients {
		if rr.Err != nil {
			errs = append(errs, rr.Err)
		}
	}
	return errs
}

// Ingester 入站邮件处理流水线
type Ingester struct {
	meta     storage.MetadataStore
	content  storage.ContentStore
	raw      storage.RawStore
	resolver resolver.AddressResolver
	notifier notify.Notifier
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewIngester 创建入站流水线，raw 与 metrics 可为 nil
func NewIngester(
	meta storage.MetadataStore,
	content storage.ContentStore,
	raw storage.RawStore,
	res resolver.AddressResolver,
	notifier notify.Notifier,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ingester{
		meta:     meta,
		content:  content,
		raw:      raw,
		resolver: res,
		notifier: notifier,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// IngestObject 从原始邮件存储读取对象后处理
func (i *Ingester) IngestObject(ctx context.Context, key string) (*IngestReport, error) {
	if i.raw == nil {
		return nil, domain.NewOpError("ingest_object", "", domain.ErrInvalidRequest, errors.New("raw store not configured"))
	}
	raw, err := i.raw.GetRaw(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NewOpError("ingest_object", "", domain.ErrNotFound, fmt.Errorf("object %s: %w", key, err))
		}
		return nil, domain.NewOpError("ingest_object", "", domain.ErrStoreUnavailable, fmt.Errorf("object %s: %w", key, err))
	}
	return i.Ingest(ctx, raw)
}

// Ingest 解析原始邮件，为每个已解析的收件人写入内容与元数据并发布通知
//
// 收件人之间相互隔离：部分失败返回 ErrPartialIngestion，全部失败返回 ErrStoreUnavailable，
// 两者都携带 *PartialIngestionError。没有收件人可解析时丢弃邮件并返回 nil。
func (i *Ingester) Ingest(ctx context.Context, raw []byte) (*IngestReport, error) {
	msg, err := Parse(raw)
	if err != nil {
		return nil, domain.NewOpError("ingest", "", domain.ErrInvalidRequest, err)
	}

	report := &IngestReport{MessageID: msg.MessageID}
	body := msg.Body()
	attachments := msg.Attachments()

	seen := make(map[string]struct{}, len(msg.To))
	for _, to := range msg.To {
		address := domain.NormalizeAddress(to)
		if _, dup := seen[address]; dup || address == "" {
			continue
		}
		seen[address] = struct{}{}

		userID, ok, err := i.resolver.Resolve(ctx, address)
		if err != nil {
			i.log.Warn("failed to resolve recipient", zap.String("address", address), zap.Error(err))
			report.Recipients = append(report.Recipients, RecipientResult{Address: address, Err: err})
			continue
		}
		if !ok {
			i.log.Info("recipient not found, skipping", zap.String("address", address))
			report.Unresolved = append(report.Unresolved, address)
			continue
		}

		result := RecipientResult{Address: address, UserID: userID}
		result.EmailID, result.Err = i.deliver(ctx, msg, address, userID, body, attachments)
		report.Recipients = append(report.Recipients, result)
	}

	if i.metrics != nil {
		i.metrics.RecordIngest(len(raw), report.Stored(), report.Failed(), len(report.Unresolved))
	}

	if report.Dropped() {
		i.log.Info("no recipient resolved, message dropped",
			zap.String("message_id", msg.MessageID),
			zap.Strings("to", msg.To),
		)
		return report, nil
	}

	switch failed := report.Failed(); {
	case failed == 0:
		return report, nil
	case failed == len(report.Recipients):
		return report, domain.NewOpError("ingest", "", domain.ErrStoreUnavailable, &PartialIngestionError{Report: report})
	default:
		return report, domain.NewOpError("ingest", "", domain.ErrPartialIngestion, &PartialIngestionError{Report: report})
	}
}

// deliver 为单个收件人写入内容与记录并发布通知，通知失败不影响结果
func (i *Ingester) deliver(ctx context.Context, msg *Message, address, userID, body string, attachments []domain.Attachment) (string, error) {
	now := i.now().UTC()
	emailID := domain.NewEmailID(userID, now)
	path := domain.ContentPath(userID, emailID)
	cc := msg.Cc
	if cc == nil {
		cc = []string{}
	}

	content := &domain.EmailContent{
		Subject:     msg.Subject,
		Body:        body,
		From:        msg.From,
		To:          []string{address},
		Cc:          cc,
		Attachments: attachments,
		Timestamp:   now,
		MessageID:   msg.MessageID,
	}
	if err := i.content.Put(ctx, path, content); err != nil {
		i.log.Error("failed to store content",
			zap.String("user_id", userID),
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		return emailID, fmt.Errorf("store content: %w", err)
	}

	record := &domain.EmailRecord{
		EmailID:            emailID,
		OwnerID:            userID,
		From:               msg.From,
		To:                 []string{address},
		Cc:                 cc,
		Subject:            msg.Subject,
		Preview:            domain.MakePreview(body),
		Timestamp:          now,
		Folder:             domain.FolderInbox,
		HasAttachments:     len(attachments) > 0,
		ContentRef:         path,
		TransportMessageID: msg.MessageID,
	}
	if err := i.meta.Put(ctx, record); err != nil {
		i.log.Error("failed to store record",
			zap.String("user_id", userID),
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		return emailID, fmt.Errorf("store record: %w", err)
	}

	if err := i.notifier.Publish(ctx, domain.NewMailEventFrom(record)); err != nil {
		i.log.Warn("failed to publish new mail event",
			zap.String("user_id", userID),
			zap.String("email_id", emailID),
			zap.Error(err),
		)
	}

	i.log.Info("message stored",
		zap.String("user_id", userID),
		zap.String("email_id", emailID),
		zap.Int("attachments", len(attachments)),
	)
	return emailID, nil
}
