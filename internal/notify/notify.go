// Package notify 新邮件通知的发布与分发
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/pool"
)

// ErrDropped 分发队列已满，通知被丢弃
var ErrDropped = errors.New("notification dropped")

// Notifier 新邮件通知通道
type Notifier interface {
	Publish(ctx context.Context, event domain.NewMailEvent) error
}

// Channel 带名称的通知通道，名称用于日志与指标
type Channel struct {
	Name     string
	Notifier Notifier
}

// Fanout 依次向所有通道发布，单个通道失败不影响其他通道
type Fanout struct {
	channels []Channel
	metrics  *monitoring.Metrics
}

// NewFanout 创建扇出通知器，metrics 可为 nil
func NewFanout(metrics *monitoring.Metrics, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, metrics: metrics}
}

// Publish 向所有通道发布，返回合并后的错误
func (f *Fanout) Publish(ctx context.Context, event domain.NewMailEvent) error {
	var errs []error
	for _, ch := range f.channels {
		err := ch.Notifier.Publish(ctx, event)
		if f.metrics != nil {
			f.metrics.RecordNotification(ch.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len 返回通道数量
func (f *Fanout) Len() int {
	return len(f.channels)
}

// Dispatcher 通过协程池异步发布通知
//
// 至多一次投递：队列满时丢弃并计数，发布失败只记录日志。
type Dispatcher struct {
	next    Notifier
	pool    *pool.WorkerPool
	timeout time.Duration
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewDispatcher 创建异步分发器，协程池需由调用方启动与停止
func NewDispatcher(next Notifier, workers *pool.WorkerPool, timeout time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{next: next, pool: workers, timeout: timeout, log: log, metrics: metrics}
}

// Publish 提交通知后立即返回；队列满时返回 ErrDropped
func (d *Dispatcher) Publish(_ context.Context, event domain.NewMailEvent) error {
	ok := d.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.next.Publish(ctx, event); err != nil {
			d.log.Warn("failed to publish new mail notification",
				zap.String("user_id", event.UserID),
				zap.String("email_id", event.EmailID),
				zap.Error(err),
			)
		}
	})
	if !ok {
		if d.metrics != nil {
			d.metrics.RecordNotificationDropped()
		}
		return ErrDropped
	}
	return nil
}

// Nop 丢弃所有通知
type Nop struct{}

// Publish 不做任何事
func (Nop) Publish(context.Context, domain.NewMailEvent) error { return nil }
