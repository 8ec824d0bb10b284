package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"vmail/backend/internal/awsinit"
	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/notify"
	"vmail/backend/internal/pool"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/dynamodb"
	"vmail/backend/internal/storage/filesystem"
	"vmail/backend/internal/storage/hybrid"
	"vmail/backend/internal/storage/memory"
	"vmail/backend/internal/storage/postgres"
	"vmail/backend/internal/storage/redis"
	"vmail/backend/internal/storage/s3"
	sqlstore "vmail/backend/internal/storage/sql"
	"vmail/backend/internal/websocket"
)

// dependencies 按配置创建外部依赖，并记录需要关闭与做健康检查的资源
type dependencies struct {
	cfg *config.Config
	log *zap.Logger

	aws    *aws.Config
	redis  *redis.Client
	gormDB *postgres.Store

	pingers map[string]storage.Pinger
	closers []func()
}

func newDependencies(cfg *config.Config, log *zap.Logger) *dependencies {
	return &dependencies{
		cfg:     cfg,
		log:     log,
		pingers: make(map[string]storage.Pinger),
	}
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *dependencies) awsConfig(ctx context.Context) (aws.Config, error) {
	if d.aws != nil {
		return *d.aws, nil
	}
	awsCfg, err := awsinit.Load(ctx, d.cfg.AWS)
	if err != nil {
		return aws.Config{}, err
	}
	d.aws = &awsCfg
	return awsCfg, nil
}

func (d *dependencies) redisClient() (*redis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	if d.cfg.Redis.Address == "" {
		return nil, nil
	}
	client, err := redis.New(d.cfg.Redis, d.log)
	if err != nil {
		return nil, err
	}
	d.redis = client
	d.pingers["redis"] = client
	d.closers = append(d.closers, func() { _ = client.Close() })
	return client, nil
}

func (d *dependencies) sqlStore() (*postgres.Store, error) {
	if d.gormDB != nil {
		return d.gormDB, nil
	}
	store, err := postgres.NewStore(d.cfg.Database)
	if err != nil {
		return nil, err
	}
	d.gormDB = store
	d.closers = append(d.closers, func() { _ = store.Close() })
	return store, nil
}

// metadataStore 创建元数据存储；配置了缓存有效期和 Redis 时包一层读缓存
func (d *dependencies) metadataStore(ctx context.Context) (storage.MetadataStore, error) {
	var (
		meta   storage.MetadataStore
		pinger storage.Pinger
	)
	switch d.cfg.Database.Type {
	case "memory", "":
		store := memory.NewStore()
		meta, pinger = store, store
	case "postgres", "mysql":
		store, err := d.sqlStore()
		if err != nil {
			return nil, err
		}
		meta, pinger = store, store
	case "dynamodb":
		awsCfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		store := dynamodb.NewFromConfig(awsCfg, awsinit.Endpoint(d.cfg.AWS), d.cfg.Database)
		meta, pinger = store, store
	default:
		return nil, fmt.Errorf("unsupported database type: %s", d.cfg.Database.Type)
	}
	d.pingers["metadata"] = pinger

	if d.cfg.Database.CacheTTL <= 0 {
		return meta, nil
	}
	client, err := d.redisClient()
	if err != nil {
		return nil, err
	}
	if client == nil {
		d.log.Warn("record cache disabled: redis address not configured")
		return meta, nil
	}
	cache := redis.NewRecordCache(client.Client(), d.cfg.Database.CacheTTL)
	return hybrid.NewStore(meta, cache, d.log), nil
}

// contentStore 创建内容存储；三种实现都同时承担原始邮件存储
func (d *dependencies) contentStore(ctx context.Context) (storage.ContentStore, storage.RawStore, error) {
	switch d.cfg.Content.Type {
	case "memory", "":
		store := memory.NewContentStore()
		return store, store, nil
	case "filesystem":
		store, err := filesystem.NewStore(d.cfg.Content.BasePath)
		if err != nil {
			return nil, nil, err
		}
		d.pingers["content"] = store
		return store, store, nil
	case "s3":
		awsCfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, err := s3.NewFromConfig(awsCfg, awsinit.Endpoint(d.cfg.AWS), d.cfg.AWS.UsePathStyle, d.cfg.Content.Bucket, d.log)
		if err != nil {
			return nil, nil, err
		}
		d.pingers["content"] = store
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content store type: %s", d.cfg.Content.Type)
	}
}

// directory 创建用户目录
func (d *dependencies) directory(ctx context.Context) (storage.Directory, error) {
	switch d.cfg.Directory.Type {
	case "static", "memory", "":
		return memory.NewDirectory(d.cfg.Directory.Static), nil
	case "postgres":
		client, err := postgres.NewClient(ctx, d.cfg.Directory, d.cfg.Database, d.log)
		if err != nil {
			return nil, err
		}
		d.pingers["directory"] = client
		d.closers = append(d.closers, client.Close)
		return client, nil
	case "sql":
		store, err := sqlstore.NewStore(d.cfg.Directory, d.cfg.Database)
		if err != nil {
			return nil, err
		}
		d.pingers["directory"] = store
		d.closers = append(d.closers, func() { _ = store.Close() })
		return store, nil
	case "database":
		// 与元数据共用同一个 SQL 数据库
		return d.sqlStore()
	default:
		return nil, fmt.Errorf("unsupported directory type: %s", d.cfg.Directory.Type)
	}
}

// notifyWiring 通知链路的各组成部分
type notifyWiring struct {
	dispatcher notify.Notifier
	workers    *pool.WorkerPool
	hub        *websocket.Hub
	relay      func(ctx context.Context) error
}

// notifier 组装新邮件通知链路
//
// 配置了 Redis 频道时 WebSocket Hub 只从 Redis 订阅接收，避免同一实例重复推送。
func (d *dependencies) notifier(ctx context.Context, metrics *monitoring.Metrics, timeout time.Duration) (*notifyWiring, error) {
	w := &notifyWiring{}
	var channels []notify.Channel

	if d.cfg.Notify.WebSocket {
		w.hub = websocket.NewHub(d.cfg.CORS.AllowedOrigins, d.log)
	}

	var publisher *redis.Publisher
	if d.cfg.Notify.RedisChannel != "" {
		client, err := d.redisClient()
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("redis channel %q configured without a redis address", d.cfg.Notify.RedisChannel)
		}
		publisher = redis.NewPublisher(client.Client(), d.cfg.Notify.RedisChannel)
		channels = append(channels, notify.Channel{Name: "redis", Notifier: publisher})
	}

	if w.hub != nil {
		if publisher != nil {
			hub := w.hub
			w.relay = func(ctx context.Context) error {
				return publisher.Relay(ctx, func(event domain.NewMailEvent) {
					if err := hub.Publish(ctx, event); err != nil {
						d.log.Warn("websocket push failed", zap.String("user_id", event.UserID), zap.Error(err))
					}
				})
			}
		} else {
			channels = append(channels, notify.Channel{Name: "websocket", Notifier: w.hub})
		}
	}

	if d.cfg.Notify.SQSQueueURL != "" {
		awsCfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Channel{
			Name:     "sqs",
			Notifier: notify.NewSQSFromConfig(awsCfg, awsinit.Endpoint(d.cfg.AWS), d.cfg.Notify.SQSQueueURL),
		})
	}

	w.workers = pool.NewWorkerPool(d.cfg.Notify.Workers, d.cfg.Notify.QueueSize, d.log)
	if len(channels) == 0 {
		w.dispatcher = notify.Nop{}
		return w, nil
	}
	w.dispatcher = notify.NewDispatcher(notify.NewFanout(metrics, channels...), w.workers, timeout, d.log, metrics)
	return w, nil
}
