package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tempmail/mailbot/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义邮箱生命周期的核心业务配置
type MailboxConfig struct {
	Limit              int           // 每个用户最多保留的活跃邮箱数量，默认 100
	HistoryLimit       int           // 历史记录最多展示条数，默认 100
	MarkDeletedRetries int           // 远程释放成功后本地标记删除的最大尝试次数
	RetryBackoff       time.Duration // 重试间隔（线性递增）
}

// ProviderConfig 定义远程邮箱服务配置
type ProviderConfig struct {
	Type          string        // "memory" 或 "mailgun"
	APIKey        string        // Mailgun API Key
	Domain        string        // 生成地址使用的域名
	APIBase       string        // Mailgun API 地址，默认 https://api.mailgun.net/v3
	WebhookURL    string        // 入站邮件转发地址，留空时使用 store()
	Timeout       time.Duration // 单次远程调用超时，默认 5 秒
	RatePerSecond float64       // 远程 API 调用速率上限
}

// SessionConfig 定义删除选择会话配置
type SessionConfig struct {
	TTL           time.Duration // 会话有效期，默认 5 分钟
	Store         string        // "memory" 或 "redis"
	SweepInterval time.Duration // 内存会话清理间隔
}

// LockConfig 定义按用户互斥的实现方式
type LockConfig struct {
	Type string        // "local" 或 "redis"（多实例部署）
	TTL  time.Duration // 分布式锁租约时长
}

// TransportConfig 定义聊天网关接入配置
type TransportConfig struct {
	Secret string // 网关签发令牌的 HMAC 密钥，留空表示不校验
	Issuer string // 令牌签发者
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: ""（内存）、"mysql" 或 "postgres"
	Driver          string        // PostgreSQL 访问方式: "pgx"（原生）或 "gorm"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// EventsConfig 定义生命周期事件发布配置
type EventsConfig struct {
	NSQAddress string // nsqd 地址，留空表示不发布
	Topic      string // 事件主题
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Mailbox   MailboxConfig
	Provider  ProviderConfig
	Session   SessionConfig
	Lock      LockConfig
	Transport TransportConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Events    EventsConfig
}

// 兼容旧版部署使用的环境变量名
var legacyEnv = map[string]string{
	"provider.api_key":     "MAILGUN_API_KEY",
	"provider.domain":      "MAILGUN_DOMAIN",
	"provider.webhook_url": "MAILGUN_WEBHOOK_URL",
	"database.dsn":         "DATABASE_URL",
	"transport.secret":     "TELEGRAM_BOT_TOKEN",
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（TEMPMAIL_ 前缀，其次是兼容的旧变量名）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 例如: TEMPMAIL_MAILBOX_LIMIT, TEMPMAIL_PROVIDER_API_KEY
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		envKey := "TEMPMAIL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey, legacy)
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mailbox.limit", 100)
	v.SetDefault("mailbox.history_limit", 100)
	v.SetDefault("mailbox.mark_deleted_retries", 3)
	v.SetDefault("mailbox.retry_backoff", "200ms")
	v.SetDefault("provider.type", "memory")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.domain", "temp.mail")
	v.SetDefault("provider.api_base", "https://api.mailgun.net/v3")
	v.SetDefault("provider.webhook_url", "")
	v.SetDefault("provider.timeout", "5s")
	v.SetDefault("provider.rate_per_second", 5)
	v.SetDefault("session.ttl", "5m")
	v.SetDefault("session.store", "memory")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("lock.type", "local")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("transport.secret", "")
	v.SetDefault("transport.issuer", "tempmail-gateway")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("events.nsq_address", "")
	v.SetDefault("events.topic", "mailbox-events")

	limit := v.GetInt("mailbox.limit")
	if limit <= 0 {
		return nil, fmt.Errorf("mailbox.limit must be positive, got %d", limit)
	}

	historyLimit := v.GetInt("mailbox.history_limit")
	if historyLimit <= 0 {
		historyLimit = 100
	}

	retries := v.GetInt("mailbox.mark_deleted_retries")
	if retries <= 0 {
		retries = 1
	}

	retryBackoff, err := time.ParseDuration(v.GetString("mailbox.retry_backoff"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.retry_backoff: %w", err)
	}

	providerTimeout, err := time.ParseDuration(v.GetString("provider.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid provider.timeout: %w", err)
	}

	sessionTTL, err := time.ParseDuration(v.GetString("session.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid session.ttl: %w", err)
	}

	sweepInterval, err := time.ParseDuration(v.GetString("session.sweep_interval"))
	if err != nil {
		sweepInterval = time.Minute
	}

	lockTTL, err := time.ParseDuration(v.GetString("lock.ttl"))
	if err != nil {
		lockTTL = 30 * time.Second
	}

	lockType := strings.ToLower(v.GetString("lock.type"))
	// 分布式锁没有续约，租约必须覆盖一次创建的最坏耗时
	if lockType == "redis" {
		if worst := worstCaseHold(providerTimeout, retries, retryBackoff); lockTTL < worst {
			return nil, fmt.Errorf("lock.ttl %s is shorter than the worst-case hold time %s", lockTTL, worst)
		}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	providerType := strings.ToLower(v.GetString("provider.type"))
	apiKey := v.GetString("provider.api_key")
	providerDomain := strings.ToLower(strings.TrimSpace(v.GetString("provider.domain")))
	if providerType == "mailgun" && (apiKey == "" || providerDomain == "") {
		return nil, fmt.Errorf("provider.api_key and provider.domain are required for mailgun provider")
	}
	if err := domain.ValidateDomain(providerDomain); err != nil {
		return nil, fmt.Errorf("invalid provider.domain %q: %w", providerDomain, err)
	}
	if providerType != "mailgun" && providerType != "memory" {
		return nil, fmt.Errorf("unsupported provider.type: %s (supported: memory, mailgun)", providerType)
	}

	transportSecret := v.GetString("transport.secret")
	// 网关密钥必须足够长
	if transportSecret != "" && len(transportSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: transport secret must be at least 32 characters long")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Limit:              limit,
			HistoryLimit:       historyLimit,
			MarkDeletedRetries: retries,
			RetryBackoff:       retryBackoff,
		},
		Provider: ProviderConfig{
			Type:          providerType,
			APIKey:        apiKey,
			Domain:        providerDomain,
			APIBase:       strings.TrimRight(v.GetString("provider.api_base"), "/"),
			WebhookURL:    v.GetString("provider.webhook_url"),
			Timeout:       providerTimeout,
			RatePerSecond: v.GetFloat64("provider.rate_per_second"),
		},
		Session: SessionConfig{
			TTL:           sessionTTL,
			Store:         strings.ToLower(v.GetString("session.store")),
			SweepInterval: sweepInterval,
		},
		Lock: LockConfig{
			Type: lockType,
			TTL:  lockTTL,
		},
		Transport: TransportConfig{
			Secret: transportSecret,
			Issuer: v.GetString("transport.issuer"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			Driver:          strings.ToLower(v.GetString("database.driver")),
			DSN:             normalizeDSN(v.GetString("database.dsn")),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Events: EventsConfig{
			NSQAddress: v.GetString("events.nsq_address"),
			Topic:      v.GetString("events.topic"),
		},
	}

	// DATABASE_URL 只给出 DSN 时推断为 PostgreSQL
	if cfg.Database.Type == "" && strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
		cfg.Database.Type = "postgres"
	}

	return cfg, nil
}

// worstCaseHold 一次创建在用户锁内的最长耗时：
// 淘汰释放、分配、失败补偿三次远程调用，加上标记删除重试的全部等待。
func worstCaseHold(providerTimeout time.Duration, retries int, backoff time.Duration) time.Duration {
	worst := 3 * providerTimeout
	for attempt := 1; attempt < retries; attempt++ {
		worst += backoff * time.Duration(attempt)
	}
	return worst
}

// normalizeDSN 统一 PostgreSQL URL 前缀（部分托管平台使用 postgres://）
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(dsn, "postgres://")
	}
	return dsn
}

// parseList 将逗号分隔的字符串解析为字符串切片
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

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
