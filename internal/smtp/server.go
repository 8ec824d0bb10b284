package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"vmail/backend/internal/config"
)

// NewServer 创建入站 SMTP 服务器
func NewServer(cfg config.SMTPConfig, be *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(be)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Domain
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = cfg.MaxMessageSize
	s.MaxRecipients = cfg.MaxRecipients
	return s
}
