// Package mailer 出站邮件投递
package mailer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"vmail/backend/internal/awsinit"
	"vmail/backend/internal/config"
)

// Transport 投递已组装好的原始邮件，返回传输层消息 ID
type Transport interface {
	Send(ctx context.Context, from string, recipients []string, raw []byte) (string, error)
}

// New 按配置创建投递通道
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (Transport, error) {
	switch cfg.Mailer.Type {
	case "ses":
		awsCfg, err := awsinit.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewSESFromConfig(awsCfg, awsinit.Endpoint(cfg.AWS), cfg.Mailer.SESConfiguration), nil
	case "smtp":
		return NewSMTP(cfg.Mailer, log), nil
	case "log", "":
		return NewLogTransport(log), nil
	default:
		return nil, fmt.Errorf("unsupported mailer type: %s", cfg.Mailer.Type)
	}
}

// headerMessageID 读取原始邮件的 Message-ID 头，去掉尖括号
func headerMessageID(raw []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}
