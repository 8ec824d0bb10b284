package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport 只记录日志不投递，用于开发环境
type LogTransport struct {
	log *zap.Logger
}

// NewLogTransport 创建日志通道
func NewLogTransport(log *zap.Logger) *LogTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogTransport{log: log}
}

// Send 记录投递信息
func (t *LogTransport) Send(_ context.Context, from string, recipients []string, raw []byte) (string, error) {
	id := headerMessageID(raw)
	t.log.Info("outbound message",
		zap.String("from", from),
		zap.Strings("recipients", recipients),
		zap.String("message_id", id),
		zap.Int("size", len(raw)),
	)
	return id, nil
}
