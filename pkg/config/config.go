package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once   sync.Once
	config *Config
)

// Config 全局配置结构
type Config struct {
	App             AppConfig             `mapstructure:"app"`
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	PermissionCache PermissionCacheConfig `mapstructure:"permissionCache"`
	Limitation      LimitationConfig      `mapstructure:"limitation"`
	Verification    VerificationConfig    `mapstructure:"verification"`
	JWT             JWTConfig             `mapstructure:"jwt"`
	Casbin          CasbinConfig          `mapstructure:"casbin"`
	Log             LogConfig             `mapstructure:"log"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// Addr 获取HTTP监听地址
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 策略数据库配置（casbin 适配器使用）
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Charset      string `mapstructure:"charset"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	LogLevel     string `mapstructure:"logLevel"`
}

// DSN 生成数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.Username, c.Password, c.Database)
	case "sqlite":
		if c.Database == "" {
			return ":memory:"
		}
		return c.Database
	default:
		return ""
	}
}

// RedisConfig Redis配置
type RedisConfig struct {
	URL          string `mapstructure:"url"` // 连接串，优先于 host/port
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"poolSize"`
	Mode         string `mapstructure:"mode"`         // "standalone" 外部 Redis, "memory" 内存模式
	InstanceName string `mapstructure:"instanceName"` // key 前缀
}

// Addr 获取Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PermissionCacheConfig 权限缓存配置
type PermissionCacheConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	LocalTTL     time.Duration `mapstructure:"localTtl"`     // 0 表示不启用本地缓存
	DegradedMode bool          `mapstructure:"degradedMode"` // Redis 不可用时是否直接查询权限源
}

// LimitationConfig 调用频率限制配置
type LimitationConfig struct {
	EmailVerificationCallsMonitoredPeriod     time.Duration `mapstructure:"emailVerificationCallsMonitoredPeriod"`
	EmailVerificationMaxAllowedRequestsNumber int           `mapstructure:"emailVerificationMaxAllowedRequestsNumber"`
}

// VerificationConfig 验证码配置
type VerificationConfig struct {
	CodeTTL    time.Duration `mapstructure:"codeTtl"`
	CodeLength int           `mapstructure:"codeLength"`
	Channel    string        `mapstructure:"channel"` // "log" 或 "publish"
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	Expire int64  `mapstructure:"expire"`
}

// CasbinConfig Casbin配置
type CasbinConfig struct {
	ModelPath string `mapstructure:"modelPath"` // 为空时使用内置模型
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAge     int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		config, err = Load(configPath)
	})
	return err
}

// Load 加载配置文件，不影响全局实例
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = v.GetString("app.env")
	}

	if env != "" && env != "default" && configPath == "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to merge env config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "admin-management")
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.instanceName", "admin-management")
	v.SetDefault("permissionCache.ttl", time.Minute)
	v.SetDefault("limitation.emailVerificationCallsMonitoredPeriod", time.Minute)
	v.SetDefault("limitation.emailVerificationMaxAllowedRequestsNumber", 5)
	v.SetDefault("verification.codeTtl", 10*time.Minute)
	v.SetDefault("verification.codeLength", 6)
	v.SetDefault("verification.channel", "log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "console")
}

// Validate 校验核心配置
func (c *Config) Validate() error {
	if c.PermissionCache.TTL <= 0 {
		return fmt.Errorf("permissionCache.ttl must be positive")
	}
	if c.PermissionCache.LocalTTL < 0 {
		return fmt.Errorf("permissionCache.localTtl must not be negative")
	}
	if c.Limitation.EmailVerificationCallsMonitoredPeriod <= 0 {
		return fmt.Errorf("limitation.emailVerificationCallsMonitoredPeriod must be positive")
	}
	if c.Limitation.EmailVerificationMaxAllowedRequestsNumber <= 0 {
		return fmt.Errorf("limitation.emailVerificationMaxAllowedRequestsNumber must be positive")
	}
	if c.Verification.CodeTTL <= 0 {
		return fmt.Errorf("verification.codeTtl must be positive")
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 12 {
		return fmt.Errorf("verification.codeLength must be between 4 and 12")
	}
	if c.Redis.InstanceName == "" {
		return fmt.Errorf("redis.instanceName is required")
	}
	return nil
}

// resolveEnvVars 解析环境变量占位符
func resolveEnvVars(cfg *Config) {
	cfg.Database.Host = resolveEnvVar(cfg.Database.Host)
	cfg.Database.Username = resolveEnvVar(cfg.Database.Username)
	cfg.Database.Password = resolveEnvVar(cfg.Database.Password)
	cfg.Database.Database = resolveEnvVar(cfg.Database.Database)
	cfg.Redis.URL = resolveEnvVar(cfg.Redis.URL)
	cfg.Redis.Host = resolveEnvVar(cfg.Redis.Host)
	cfg.Redis.Password = resolveEnvVar(cfg.Redis.Password)
	cfg.JWT.Secret = resolveEnvVar(cfg.JWT.Secret)
}

// resolveEnvVar 解析单个环境变量，未设置的占位符解析为空
func resolveEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envKey := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		return os.Getenv(envKey)
	}
	return value
}

// Get 获取配置实例
func Get() *Config {
	if config == nil {
		panic("config not initialized, call Init first")
	}
	return config
}

// GetRedis 获取Redis配置
func GetRedis() *RedisConfig {
	return &Get().Redis
}

// GetLog 获取日志配置
func GetLog() *LogConfig {
	return &Get().Log
}

// IsDev 是否为开发环境
func IsDev() bool {
	return Get().App.Env == "dev" || Get().App.Env == "development"
}
