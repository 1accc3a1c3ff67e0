package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义临时邮箱的核心业务配置
type MailboxConfig struct {
	Domain   string        // 服务域名，必填；邮箱地址为 id@Domain
	TTL      time.Duration // 邮箱生存时间，默认 15 分钟（900 秒）
	IDLength int           // 随机邮箱 ID 长度，默认 8
}

// SMTPConfig 定义 SMTP 收信服务器的配置
type SMTPConfig struct {
	BindAddr        string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Hostname        string // HELO/EHLO 响应使用的主机名，默认与服务域名相同
	MaxMessageBytes int64  // 单封邮件最大字节数，默认 10MB
	MaxRecipients   int    // 单次事务最多 RCPT 数量，默认 50
	MaxConns        int    // 最大并发连接数，默认 100
	ConnRate        int    // 每秒最多新建连接数，默认 20
}

// RelayConfig 定义外发中继（/send）的凭证
type RelayConfig struct {
	Host     string // 中继主机，留空表示未配置外发
	Port     int    // 中继端口，默认 587
	Username string // 认证用户名，留空则不认证
	Password string // 认证密码
	TLS      string // "starttls"（默认）、"tls" 或 "none"
}

// PersistConfig 定义可选的持久化副本存储
type PersistConfig struct {
	Type            string        // ""（关闭）、"postgres"、"mysql"、"sqlite" 或 "maildir"
	DSN             string        // 数据库连接字符串（sqlite 为文件路径）
	Path            string        // maildir 根目录
	Workers         int           // 异步写入协程数，默认 4
	QueueSize       int           // 异步写入队列长度，默认 256
	MaxOpenConns    int           // 最大打开连接数，默认 10
	MaxIdleConns    int           // 最大空闲连接数，默认 2
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// HTTPConfig 定义 HTTP 接口的防滥用配置
type HTTPConfig struct {
	CreateRatePerMinute int // 每个 IP 每分钟最多创建邮箱次数，0 表示不限
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

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"；留空时使用内存存储
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	PoolSize int    // 连接池大小，默认 10
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server  ServerConfig
	Mailbox MailboxConfig
	SMTP    SMTPConfig
	Relay   RelayConfig
	Persist PersistConfig
	HTTP    HTTPConfig
	CORS    CORSConfig
	Log     LogConfig
	Redis   RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_，例如 TEMPMAIL_MAILBOX_DOMAIN。
// 服务域名缺失时直接返回错误，进程应当立即退出。
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("tempmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.domain", "")
	viper.SetDefault("mailbox.ttl", "15m")
	viper.SetDefault("mailbox.id_length", 8)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.hostname", "")
	viper.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	viper.SetDefault("smtp.max_recipients", 50)
	viper.SetDefault("smtp.max_conns", 100)
	viper.SetDefault("smtp.conn_rate", 20)
	viper.SetDefault("relay.host", "")
	viper.SetDefault("relay.port", 587)
	viper.SetDefault("relay.username", "")
	viper.SetDefault("relay.password", "")
	viper.SetDefault("relay.tls", "starttls")
	viper.SetDefault("persist.type", "")
	viper.SetDefault("persist.dsn", "")
	viper.SetDefault("persist.path", "./data/maildir")
	viper.SetDefault("persist.workers", 4)
	viper.SetDefault("persist.queue_size", 256)
	viper.SetDefault("persist.max_open_conns", 10)
	viper.SetDefault("persist.max_idle_conns", 2)
	viper.SetDefault("persist.conn_max_lifetime", "5m")
	viper.SetDefault("http.create_rate_per_minute", 30)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	mailDomain := normalizeDomain(viper.GetString("mailbox.domain"))
	if mailDomain == "" {
		return nil, fmt.Errorf("mailbox.domain is required (set TEMPMAIL_MAILBOX_DOMAIN)")
	}
	if strings.Contains(mailDomain, "@") {
		return nil, fmt.Errorf("invalid mailbox.domain %q", mailDomain)
	}

	ttl, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("mailbox.ttl must be at least 1s")
	}

	idLength := viper.GetInt("mailbox.id_length")
	if idLength < 4 || idLength > 32 {
		return nil, fmt.Errorf("mailbox.id_length must be between 4 and 32")
	}

	smtpHostname := viper.GetString("smtp.hostname")
	if smtpHostname == "" {
		smtpHostname = mailDomain
	}

	relayTLS := strings.ToLower(strings.TrimSpace(viper.GetString("relay.tls")))
	switch relayTLS {
	case "starttls", "tls", "none":
	default:
		return nil, fmt.Errorf("invalid relay.tls %q (want starttls, tls or none)", relayTLS)
	}

	persistType := strings.ToLower(strings.TrimSpace(viper.GetString("persist.type")))
	switch persistType {
	case "", "postgres", "mysql", "sqlite", "maildir":
	default:
		return nil, fmt.Errorf("invalid persist.type %q", persistType)
	}
	persistDSN := viper.GetString("persist.dsn")
	if persistType != "" && persistType != "maildir" && persistDSN == "" {
		return nil, fmt.Errorf("persist.dsn is required for persist.type %q", persistType)
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("persist.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	workers := viper.GetInt("persist.workers")
	if workers <= 0 {
		workers = 4
	}
	queueSize := viper.GetInt("persist.queue_size")
	if queueSize <= 0 {
		queueSize = 256
	}

	poolSize := viper.GetInt("redis.pool_size")
	if poolSize <= 0 {
		poolSize = 10
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Domain:   mailDomain,
			TTL:      ttl,
			IDLength: idLength,
		},
		SMTP: SMTPConfig{
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Hostname:        smtpHostname,
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   viper.GetInt("smtp.max_recipients"),
			MaxConns:        viper.GetInt("smtp.max_conns"),
			ConnRate:        viper.GetInt("smtp.conn_rate"),
		},
		Relay: RelayConfig{
			Host:     viper.GetString("relay.host"),
			Port:     viper.GetInt("relay.port"),
			Username: viper.GetString("relay.username"),
			Password: viper.GetString("relay.password"),
			TLS:      relayTLS,
		},
		Persist: PersistConfig{
			Type:            persistType,
			DSN:             persistDSN,
			Path:            viper.GetString("persist.path"),
			Workers:         workers,
			QueueSize:       queueSize,
			MaxOpenConns:    viper.GetInt("persist.max_open_conns"),
			MaxIdleConns:    viper.GetInt("persist.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		HTTP: HTTPConfig{
			CreateRatePerMinute: viper.GetInt("http.create_rate_per_minute"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			PoolSize: poolSize,
		},
	}

	return cfg, nil
}

// normalizeDomain 去掉空白和前导 @，并转为小写
func normalizeDomain(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "@")
	return strings.ToLower(value)
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
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
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
