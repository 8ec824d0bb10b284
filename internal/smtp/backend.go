// Package smtp 入站 SMTP 监听：保存原始邮件后交给入站流水线处理
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/ingest"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/storage"
)

// Ingester 入站处理接口
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (*ingest.IngestReport, error)
}

// RawKey 原始邮件对象键 raw/{yyyy}/{mm}/{dd}/{uuid}.eml
func RawKey(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = "raw"
	}
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.eml", strings.TrimSuffix(prefix, "/"), at.Year(), at.Month(), at.Day(), uuid.NewString())
}

// Backend 实现 go-smtp 的 Backend 接口
//
// 只接收发往 AcceptDomains 的邮件，不做中继。
type Backend struct {
	raw           storage.RawStore
	ingester      Ingester
	acceptDomains map[string]struct{}
	rawPrefix     string
	maxSize       int64
	maxRecipients int
	limiter       *IPLimiter
	log           *zap.Logger
	metrics       *monitoring.Metrics
	now           func() time.Time
}

// NewBackend 创建 SMTP Backend，metrics 可为 nil
func NewBackend(cfg config.SMTPConfig, rawPrefix string, raw storage.RawStore, ingester Ingester, log *zap.Logger, metrics *monitoring.Metrics) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	domains := make(map[string]struct{}, len(cfg.AcceptDomains))
	for _, d := range cfg.AcceptDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains[d] = struct{}{}
		}
	}
	return &Backend{
		raw:           raw,
		ingester:      ingester,
		acceptDomains: domains,
		rawPrefix:     rawPrefix,
		maxSize:       cfg.MaxMessageSize,
		maxRecipients: cfg.MaxRecipients,
		limiter:       NewIPLimiter(cfg.RatePerMinute),
		log:           log,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Limiter 返回会话限流器
func (b *Backend) Limiter() *IPLimiter {
	return b.limiter
}

// NewSession 创建新的 SMTP 会话，超过速率限制时拒绝
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c)
	if !b.limiter.Allow(ip) {
		if b.metrics != nil {
			b.metrics.RecordRateLimitBlock("smtp_session")
		}
		b.log.Warn("smtp session rate limited", zap.String("ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b, ip: ip}, nil
}

func (b *Backend) accepts(address string) bool {
	if len(b.acceptDomains) == 0 {
		return true
	}
	_, ok := b.acceptDomains[domain.DomainOf(address)]
	return ok
}

// deliver 保存原始邮件并处理
func (b *Backend) deliver(ctx context.Context, raw []byte) error {
	key := RawKey(b.rawPrefix, b.now())
	if b.raw != nil {
		if err := b.raw.PutRaw(ctx, key, raw); err != nil {
			b.log.Error("failed to store raw message", zap.String("key", key), zap.Error(err))
			return errTemporary
		}
	}

	report, err := b.ingester.Ingest(ctx, raw)
	if err == nil {
		b.log.Info("inbound message accepted",
			zap.String("key", key),
			zap.Int("stored", report.Stored()),
			zap.Int("unresolved", len(report.Unresolved)),
		)
		return nil
	}

	switch domain.KindOf(err) {
	case domain.ErrPartialIngestion:
		// 部分收件人已落库，重投会产生重复副本
		b.log.Warn("inbound message partially stored", zap.String("key", key), zap.Error(err))
		return nil
	case domain.ErrInvalidRequest:
		b.log.Warn("rejecting unparseable message", zap.String("key", key), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	default:
		b.log.Error("inbound message not stored", zap.String("key", key), zap.Error(err))
		return errTemporary
	}
}

var errTemporary = &gosmtp.SMTPError{
	Code:         451,
	EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
	Message:      "temporary storage failure, try again later",
}

type session struct {
	backend    *Backend
	ip         string
	from       string
	recipients []string
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，拒绝非本地域名以防止中继
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if err := domain.ValidateAddress(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if !s.backend.accepts(addr) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied",
		}
	}
	if s.backend.maxRecipients > 0 && len(s.recipients) >= s.backend.maxRecipients {
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取邮件内容并投递
func (s *session) Data(r io.Reader) error {
	limit := s.backend.maxSize
	if limit <= 0 {
		limit = 10 << 20
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) {
			return err
		}
		return fmt.Errorf("read data: %w", err)
	}
	if n > limit {
		return gosmtp.ErrDataTooLarge
	}

	s.backend.log.Debug("smtp data received",
		zap.String("ip", s.ip),
		zap.String("from", s.from),
		zap.Strings("rcpt", s.recipients),
		zap.Int64("size", n),
	)
	return s.backend.deliver(context.Background(), buf.Bytes())
}

// Reset 重置状态
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}

func remoteIP(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(c.Conn().RemoteAddr().String())
	if err != nil {
		return c.Conn().RemoteAddr().String()
	}
	return host
}
