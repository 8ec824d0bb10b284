package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig HTTP API 监听配置
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 8080
	ReadTimeout     time.Duration // 读取超时
	WriteTimeout    time.Duration // 写入超时
	ShutdownTimeout time.Duration // 优雅关闭等待时间
	MaxBodyBytes    int64         // 请求体上限（含 base64 附件）
	IngestAPIKey    string        // /internal/ingest 共享密钥，留空则禁用该端点
}

// SMTPConfig 入站 SMTP 监听配置
type SMTPConfig struct {
	Enabled        bool     // 是否启动入站 SMTP
	BindAddr       string   // 监听地址，格式 "host:port"
	Domain         string   // HELO/EHLO 域名
	AcceptDomains  []string // 接受投递的收件域名，空表示全部接受
	MaxMessageSize int64    // 单封邮件字节上限
	MaxRecipients  int      // 单次会话收件人上限
	RatePerMinute  int      // 单 IP 每分钟允许的会话数
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string // "*" 表示允许所有来源
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool   // 彩色控制台输出
	File        string // 日志文件路径，留空只输出到 stdout
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// DatabaseConfig 元数据存储配置
type DatabaseConfig struct {
	Type            string        // memory, postgres, mysql, dynamodb
	DSN             string        // postgres://... 或 user:pass@tcp(host:port)/db?parseTime=true
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	CacheTTL        time.Duration // Redis 记录缓存有效期，0 表示不启用缓存
	DynamoTable     string        // DynamoDB 表名
	DynamoIndex     string        // (userId, folder) 二级索引名
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Address  string // "host:port"，留空表示不使用 Redis
	Password string
	DB       int
}

// AWSConfig AWS SDK 公共配置
type AWSConfig struct {
	Region          string
	Endpoint        string // 自定义端点（LocalStack / MinIO）
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// ContentConfig 内容存储配置
type ContentConfig struct {
	Type      string // memory, filesystem, s3
	BasePath  string // filesystem 根目录
	Bucket    string // S3 桶名
	RawPrefix string // 入站原始邮件对象前缀
}

// DirectoryConfig 地址解析配置
type DirectoryConfig struct {
	Type   string            // static, memory, postgres, sql, database
	Driver string            // sql 类型下的驱动: mysql 或 postgres
	DSN    string            // 用户目录数据库连接串
	Static map[string]string // static 类型的 address -> userId 映射
}

// NotifyConfig 新邮件通知配置
type NotifyConfig struct {
	WebSocket    bool   // 是否启用 WebSocket 推送
	RedisChannel string // Redis 发布频道前缀，留空不发布
	SQSQueueURL  string // SQS 队列地址，留空不发布
	Workers      int    // 通知发送协程数
	QueueSize    int    // 通知任务队列长度
}

// MailerConfig 出站投递配置
type MailerConfig struct {
	Type             string // ses, smtp, log
	SMTPAddr         string // 中继地址 "host:port"
	SMTPUsername     string
	SMTPPassword     string
	SMTPStartTLS     bool
	HeloName         string
	SESConfiguration string // SES 配置集
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret       string        // 签名密钥，至少 32 字符
	Issuer       string        // 签发者
	AccessExpiry time.Duration // 访问令牌有效期
}

// Config 系统配置根结构体
type Config struct {
	Server    ServerConfig
	SMTP      SMTPConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Content   ContentConfig
	Directory DirectoryConfig
	Notify    NotifyConfig
	Mailer    MailerConfig
	JWT       JWTConfig
}

const defaultJWTSecret = "change-me-in-production"

// Load 从环境变量和 .env 文件加载配置。
//
// 优先级：环境变量 > .env 文件 > 默认值。环境变量前缀为 VMAIL_，
// 例如 VMAIL_SERVER_PORT、VMAIL_DATABASE_TYPE。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("vmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	cfg := &Config{
		Server: ServerConfig{
			Host:            viper.GetString("server.host"),
			Port:            viper.GetInt("server.port"),
			ReadTimeout:     durationOr("server.read_timeout", 15*time.Second),
			WriteTimeout:    durationOr("server.write_timeout", 30*time.Second),
			ShutdownTimeout: durationOr("server.shutdown_timeout", 10*time.Second),
			MaxBodyBytes:    viper.GetInt64("server.max_body_bytes"),
			IngestAPIKey:    viper.GetString("server.ingest_api_key"),
		},
		SMTP: SMTPConfig{
			Enabled:        viper.GetBool("smtp.enabled"),
			BindAddr:       viper.GetString("smtp.bind_addr"),
			Domain:         viper.GetString("smtp.domain"),
			AcceptDomains:  parseDomains(viper.GetString("smtp.accept_domains")),
			MaxMessageSize: viper.GetInt64("smtp.max_message_size"),
			MaxRecipients:  viper.GetInt("smtp.max_recipients"),
			RatePerMinute:  viper.GetInt("smtp.rate_per_minute"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(viper.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
			MaxSizeMB:   viper.GetInt("log.max_size_mb"),
			MaxBackups:  viper.GetInt("log.max_backups"),
			MaxAgeDays:  viper.GetInt("log.max_age_days"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(viper.GetString("database.type")),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOr("database.conn_max_lifetime", 5*time.Minute),
			CacheTTL:        durationOr("database.cache_ttl", 0),
			DynamoTable:     viper.GetString("database.dynamo_table"),
			DynamoIndex:     viper.GetString("database.dynamo_index"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		AWS: AWSConfig{
			Region:          viper.GetString("aws.region"),
			Endpoint:        viper.GetString("aws.endpoint"),
			AccessKeyID:     viper.GetString("aws.access_key_id"),
			SecretAccessKey: viper.GetString("aws.secret_access_key"),
			UsePathStyle:    viper.GetBool("aws.use_path_style"),
		},
		Content: ContentConfig{
			Type:      strings.ToLower(viper.GetString("content.type")),
			BasePath:  viper.GetString("content.base_path"),
			Bucket:    viper.GetString("content.bucket"),
			RawPrefix: strings.Trim(viper.GetString("content.raw_prefix"), "/"),
		},
		Directory: DirectoryConfig{
			Type:   strings.ToLower(viper.GetString("directory.type")),
			Driver: strings.ToLower(viper.GetString("directory.driver")),
			DSN:    viper.GetString("directory.dsn"),
			Static: parseMapping(viper.GetString("directory.static")),
		},
		Notify: NotifyConfig{
			WebSocket:    viper.GetBool("notify.websocket"),
			RedisChannel: viper.GetString("notify.redis_channel"),
			SQSQueueURL:  viper.GetString("notify.sqs_queue_url"),
			Workers:      viper.GetInt("notify.workers"),
			QueueSize:    viper.GetInt("notify.queue_size"),
		},
		Mailer: MailerConfig{
			Type:             strings.ToLower(viper.GetString("mailer.type")),
			SMTPAddr:         viper.GetString("mailer.smtp_addr"),
			SMTPUsername:     viper.GetString("mailer.smtp_username"),
			SMTPPassword:     viper.GetString("mailer.smtp_password"),
			SMTPStartTLS:     viper.GetBool("mailer.smtp_starttls"),
			HeloName:         viper.GetString("mailer.helo_name"),
			SESConfiguration: viper.GetString("mailer.ses_configuration_set"),
		},
		JWT: JWTConfig{
			Secret:       viper.GetString("jwt.secret"),
			Issuer:       viper.GetString("jwt.issuer"),
			AccessExpiry: durationOr("jwt.access_expiry", time.Hour),
		},
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = 1024
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置组合是否可用
func (c *Config) Validate() error {
	if c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set VMAIL_JWT_SECRET environment variable")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	switch c.Database.Type {
	case "memory":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for database type %q", c.Database.Type)
		}
	case "dynamodb":
		if c.Database.DynamoTable == "" {
			return fmt.Errorf("database.dynamo_table is required for dynamodb")
		}
	default:
		return fmt.Errorf("unsupported database type: %s (supported: memory, postgres, mysql, dynamodb)", c.Database.Type)
	}

	switch c.Content.Type {
	case "memory", "filesystem":
	case "s3":
		if c.Content.Bucket == "" {
			return fmt.Errorf("content.bucket is required for s3 content store")
		}
	default:
		return fmt.Errorf("unsupported content type: %s (supported: memory, filesystem, s3)", c.Content.Type)
	}

	switch c.Directory.Type {
	case "static", "memory":
	case "postgres":
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory.dsn is required for postgres directory")
		}
	case "sql":
		if c.Directory.Driver != "mysql" && c.Directory.Driver != "postgres" {
			return fmt.Errorf("unsupported directory driver: %s (supported: mysql, postgres)", c.Directory.Driver)
		}
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory.dsn is required for sql directory")
		}
	case "database":
		if c.Database.Type != "postgres" && c.Database.Type != "mysql" {
			return fmt.Errorf("directory type database requires a postgres or mysql metadata store")
		}
	default:
		return fmt.Errorf("unsupported directory type: %s", c.Directory.Type)
	}

	switch c.Mailer.Type {
	case "log", "ses":
	case "smtp":
		if c.Mailer.SMTPAddr == "" {
			return fmt.Errorf("mailer.smtp_addr is required for smtp mailer")
		}
	default:
		return fmt.Errorf("unsupported mailer type: %s (supported: ses, smtp, log)", c.Mailer.Type)
	}

	if c.Notify.SQSQueueURL != "" || c.Mailer.Type == "ses" || c.Content.Type == "s3" || c.Database.Type == "dynamodb" {
		if c.AWS.Region == "" {
			return fmt.Errorf("aws.region is required when an AWS backend is configured")
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.max_body_bytes", 25<<20)
	viper.SetDefault("server.ingest_api_key", "")
	viper.SetDefault("smtp.enabled", false)
	viper.SetDefault("smtp.bind_addr", ":2525")
	viper.SetDefault("smtp.domain", "vmail.local")
	viper.SetDefault("smtp.accept_domains", "")
	viper.SetDefault("smtp.max_message_size", 10<<20)
	viper.SetDefault("smtp.max_recipients", 50)
	viper.SetDefault("smtp.rate_per_minute", 60)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
	viper.SetDefault("database.type", "memory")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.cache_ttl", "0s")
	viper.SetDefault("database.dynamo_table", "vmail-emails")
	viper.SetDefault("database.dynamo_index", "userId-folder-index")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("aws.endpoint", "")
	viper.SetDefault("aws.access_key_id", "")
	viper.SetDefault("aws.secret_access_key", "")
	viper.SetDefault("aws.use_path_style", false)
	viper.SetDefault("content.type", "filesystem")
	viper.SetDefault("content.base_path", "./data")
	viper.SetDefault("content.bucket", "")
	viper.SetDefault("content.raw_prefix", "raw")
	viper.SetDefault("directory.type", "static")
	viper.SetDefault("directory.driver", "postgres")
	viper.SetDefault("directory.dsn", "")
	viper.SetDefault("directory.static", "")
	viper.SetDefault("notify.websocket", true)
	viper.SetDefault("notify.redis_channel", "")
	viper.SetDefault("notify.sqs_queue_url", "")
	viper.SetDefault("notify.workers", 4)
	viper.SetDefault("notify.queue_size", 1024)
	viper.SetDefault("mailer.type", "log")
	viper.SetDefault("mailer.smtp_addr", "")
	viper.SetDefault("mailer.smtp_username", "")
	viper.SetDefault("mailer.smtp_password", "")
	viper.SetDefault("mailer.smtp_starttls", true)
	viper.SetDefault("mailer.helo_name", "localhost")
	viper.SetDefault("mailer.ses_configuration_set", "")
	viper.SetDefault("jwt.secret", defaultJWTSecret)
	viper.SetDefault("jwt.issuer", "vmail")
	viper.SetDefault("jwt.access_expiry", "1h")
}

// durationOr 解析时长配置，格式错误时返回 fallback
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为去除空白的切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// parseMapping 解析 "addr=user,addr2=user2" 形式的映射，地址统一小写
func parseMapping(value string) map[string]string {
	out := make(map[string]string)
	for _, item := range parseList(value) {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// loadEnvFile 加载 .env 文件，文件不存在时静默跳过，已有环境变量不会被覆盖
func loadEnvFile() {
	path := os.Getenv("VMAIL_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}
