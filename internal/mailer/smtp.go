package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
)

// SMTPTransport 通过 SMTP 中继投递
type SMTPTransport struct {
	addr     string
	username string
	password string
	startTLS bool
	helo     string
	log      *zap.Logger

	dialer    net.Dialer
	tlsConfig *tls.Config
}

// NewSMTP 创建 SMTP 中继通道
func NewSMTP(cfg config.MailerConfig, log *zap.Logger) *SMTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPTransport{
		addr:     cfg.SMTPAddr,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		startTLS: cfg.SMTPStartTLS,
		helo:     cfg.HeloName,
		log:      log,
		dialer:   net.Dialer{Timeout: 30 * time.Second},
	}
}

// Send 投递邮件，返回邮件头中的 Message-ID
//
// 启用 STARTTLS 时服务器必须支持该扩展，否则投递失败；此时 EHLO 使用客户端默认名称。
func (t *SMTPTransport) Send(ctx context.Context, from string, recipients []string, raw []byte) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("no recipients")
	}

	c, err := t.dial(ctx)
	if err != nil {
		return "", err
	}
	defer c.Close()

	// 连接期间 ctx 取消时强制关闭
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if t.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.SendMail(from, recipients, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if err := c.Quit(); err != nil {
		t.log.Debug("smtp quit failed", zap.Error(err))
	}

	return headerMessageID(raw), nil
}

func (t *SMTPTransport) dial(ctx context.Context) (*gosmtp.Client, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}

	if t.startTLS {
		c, err := gosmtp.NewClientStartTLS(conn, t.tlsConfigFor())
		if err != nil {
			return nil, fmt.Errorf("starttls: %w", err)
		}
		return c, nil
	}

	c := gosmtp.NewClient(conn)
	if t.helo != "" {
		if err := c.Hello(t.helo); err != nil {
			c.Close()
			return nil, fmt.Errorf("helo: %w", err)
		}
	}
	return c, nil
}

func (t *SMTPTransport) tlsConfigFor() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _, _ = net.SplitHostPort(t.addr)
	}
	return cfg
}
