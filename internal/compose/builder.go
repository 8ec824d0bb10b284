// Package compose 组装并发送出站邮件，保存草稿
package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vmail/backend/internal/domain"
)

// DefaultAttachmentType 未声明类型的附件
const DefaultAttachmentType = "application/octet-stream"

// Envelope 组装邮件所需的全部字段；Bcc 只用于投递，不写入邮件头
type Envelope struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	Body        string
	Attachments []domain.Attachment
	Date        time.Time
	MessageID   string
}

// Build 生成 multipart/mixed 原始邮件，返回实际写入的附件
//
// 单个附件无法写入时记录日志并跳过，不影响其余部分。
func Build(env Envelope, log *zap.Logger) ([]byte, []domain.Attachment, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.Set("From", env.From)
	h.Set("To", strings.Join(env.To, ", "))
	if len(env.Cc) > 0 {
		h.Set("Cc", strings.Join(env.Cc, ", "))
	}
	h.SetSubject(env.Subject)
	h.SetDate(env.Date)
	h.SetMessageID(env.MessageID)

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, nil, fmt.Errorf("create writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")
	bw, err := w.CreateSingleInline(ih)
	if err != nil {
		return nil, nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(bw, env.Body); err != nil {
		return nil, nil, fmt.Errorf("write body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, nil, fmt.Errorf("close body: %w", err)
	}

	attached := make([]domain.Attachment, 0, len(env.Attachments))
	for _, att := range env.Attachments {
		if err := writeAttachment(w, att); err != nil {
			log.Warn("skipping attachment",
				zap.String("filename", att.Filename),
				zap.Error(err),
			)
			continue
		}
		attached = append(attached, att)
	}

	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), attached, nil
}

// writeAttachment 先校验头部再创建分段，校验失败时不会向 w 写入任何内容
func writeAttachment(w *mail.Writer, att domain.Attachment) error {
	mediaType, params := attachmentContentType(att.ContentType)

	var ah mail.AttachmentHeader
	ah.SetContentType(mediaType, params)
	if ah.Get("Content-Type") == "" {
		ah.SetContentType(DefaultAttachmentType, nil)
	}
	ah.Set("Content-Transfer-Encoding", "base64")
	ah.SetFilename(att.Filename)
	if err := textproto.WriteHeader(io.Discard, ah.Header.Header); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	aw, err := w.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	if _, err := aw.Write(att.Data); err != nil {
		aw.Close()
		return fmt.Errorf("write part: %w", err)
	}
	return aw.Close()
}

// attachmentContentType 解析客户端声明的类型，无法解析或为容器类型时使用 application/octet-stream
func attachmentContentType(declared string) (string, map[string]string) {
	if declared == "" || strings.ContainsAny(declared, "\r\n") {
		return DefaultAttachmentType, nil
	}
	mediaType, params, err := mime.ParseMediaType(declared)
	if err != nil {
		return DefaultAttachmentType, nil
	}
	if strings.HasPrefix(mediaType, "multipart/") || strings.HasPrefix(mediaType, "message/") {
		return DefaultAttachmentType, nil
	}
	return mediaType, params
}

// DecodeAttachments 解码 base64 附件，解码失败的附件记录日志后跳过
func DecodeAttachments(uploads []domain.AttachmentUpload, log *zap.Logger) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(uploads))
	for _, up := range uploads {
		data, err := base64.StdEncoding.DecodeString(up.Data)
		if err != nil {
			log.Warn("skipping attachment with invalid data",
				zap.String("filename", up.Filename),
				zap.Error(err),
			)
			continue
		}
		if strings.TrimSpace(up.Filename) == "" {
			log.Warn("skipping attachment without filename")
			continue
		}
		ct := mime.FormatMediaType(attachmentContentType(up.ContentType))
		if ct == "" {
			ct = DefaultAttachmentType
		}
		out = append(out, domain.Attachment{
			Filename:    up.Filename,
			ContentType: ct,
			Size:        int64(len(data)),
			Data:        data,
		})
	}
	return out
}

// Recipients 合并 to、cc、bcc，保持顺序并按小写去重
func Recipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			key := domain.NormalizeAddress(addr)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

// NewMessageID 生成 Message-ID，域名取自发件地址
func NewMessageID(from string) string {
	host := domain.DomainOf(domain.NormalizeAddress(from))
	if host == "" {
		host = "vmail.local"
	}
	return uuid.NewString() + "@" + host
}
