// Package ingest 解析入站原始邮件并按收件人落库
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"vmail/backend/internal/domain"
)

// Part MIME 树中的一个叶子节点，Data 已完成传输编码与字符集解码
type Part struct {
	ContentType string
	Disposition string
	Filename    string
	Data        []byte
}

// IsAttachment 是否为带文件名的附件
func (p Part) IsAttachment() bool {
	return p.Disposition == "attachment" && p.Filename != ""
}

// Message 解析后的入站邮件
type Message struct {
	From      string
	To        []string
	Cc        []string
	Subject   string
	MessageID string
	Date      time.Time
	Parts     []Part
}

// Body 选择正文：纯文本优先于 HTML，与出现顺序无关
func (m *Message) Body() string {
	var html *Part
	for i := range m.Parts {
		p := &m.Parts[i]
		if p.Disposition == "attachment" {
			continue
		}
		switch p.ContentType {
		case "text/plain":
			return string(p.Data)
		case "text/html":
			if html == nil {
				html = p
			}
		}
	}
	if html != nil {
		return string(html.Data)
	}
	return ""
}

// Attachments 返回附件清单
func (m *Message) Attachments() []domain.Attachment {
	out := make([]domain.Attachment, 0)
	for _, p := range m.Parts {
		if !p.IsAttachment() {
			continue
		}
		out = append(out, domain.Attachment{
			Filename:    p.Filename,
			ContentType: p.ContentType,
			Size:        int64(len(p.Data)),
			Data:        p.Data,
		})
	}
	return out
}

// Parse 解析原始邮件
//
// 未知字符集或传输编码不视为错误，按原始字节处理。
func Parse(raw []byte) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && (entity == nil || !isRecoverable(err)) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	msg := &Message{
		From:      headerText(h, "From"),
		To:        domain.SplitAddresses(headerText(h, "To")),
		Cc:        domain.SplitAddresses(headerText(h, "Cc")),
		MessageID: strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>"),
	}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	err = entity.Walk(func(_ []int, e *message.Entity, err error) error {
		if err != nil {
			if isRecoverable(err) {
				return nil
			}
			return err
		}
		if e.MultipartReader() != nil {
			return nil
		}
		part, err := readPart(e)
		if err != nil {
			return err
		}
		msg.Parts = append(msg.Parts, part)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk message: %w", err)
	}
	return msg, nil
}

func readPart(e *message.Entity) (Part, error) {
	contentType, _, err := e.Header.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}
	disposition, _, _ := e.Header.ContentDisposition()

	ah := mail.AttachmentHeader{Header: e.Header}
	filename, err := ah.Filename()
	if err != nil {
		filename = ""
	}

	data, err := io.ReadAll(e.Body)
	if err != nil && !isRecoverable(err) {
		return Part{}, fmt.Errorf("read %s part: %w", contentType, err)
	}

	return Part{
		ContentType: strings.ToLower(contentType),
		Disposition: strings.ToLower(disposition),
		Filename:    filename,
		Data:        data,
	}, nil
}

// headerText 解码 RFC 2047 编码字，失败时返回原文
func headerText(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return v
	}
	return h.Get(key)
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) || errors.Is(err, io.ErrUnexpectedEOF)
}
