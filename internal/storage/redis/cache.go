package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"vmail/backend/internal/domain"
)

// ErrCacheMiss 缓存中没有该键
var ErrCacheMiss = errors.New("cache miss")

// RecordCache 邮件元数据的读穿缓存
//
// 只缓存单条记录，列表查询与地址解析始终走数据库。
type RecordCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRecordCache 创建记录缓存
func NewRecordCache(rdb *goredis.Client, ttl time.Duration) *RecordCache {
	return &RecordCache{rdb: rdb, ttl: ttl}
}

func recordKey(emailID string) string {
	return fmt.Sprintf("email:%s", emailID)
}

// Get 获取缓存的记录，未命中返回 ErrCacheMiss
func (c *RecordCache) Get(ctx context.Context, emailID string) (*domain.EmailRecord, error) {
	data, err := c.rdb.Get(ctx, recordKey(emailID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var record domain.EmailRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode cached record: %w", err)
	}
	return &record, nil
}

// Set 缓存记录
func (c *RecordCache) Set(ctx context.Context, record *domain.EmailRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, recordKey(record.EmailID), data, c.ttl).Err()
}

// Invalidate 删除缓存的记录
func (c *RecordCache) Invalidate(ctx context.Context, emailID string) error {
	return c.rdb.Del(ctx, recordKey(emailID)).Err()
}

// NewMailChannel 用户新邮件通知频道
func NewMailChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:%s", prefix, userID)
}

// Publisher 通过 Redis 发布订阅分发新邮件通知
type Publisher struct {
	rdb    *goredis.Client
	prefix string
}

// NewPublisher 创建发布者，prefix 为频道前缀
func NewPublisher(rdb *goredis.Client, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Publish 发布新邮件通知
func (p *Publisher) Publish(ctx context.Context, event domain.NewMailEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, NewMailChannel(p.prefix, event.UserID), data).Err()
}

// Relay 订阅全部用户的新邮件频道，把收到的通知交给 fn，直到 ctx 结束
//
// 多实例部署时每个实例都通过 Relay 把通知转发给本地 WebSocket 连接。
func (p *Publisher) Relay(ctx context.Context, fn func(domain.NewMailEvent)) error {
	sub := p.rdb.PSubscribe(ctx, NewMailChannel(p.prefix, "*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.prefix, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.NewMailEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			fn(event)
		}
	}
}
