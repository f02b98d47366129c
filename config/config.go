package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/spf13/viper"
)

// DefaultOpenAIModel 使用OpenAI且未指定模型时的默认嵌入模型
// 其他提供商未指定模型时使用各自的默认模型
const DefaultOpenAIModel = "text-embedding-3-small"

// Config 应用程序配置结构体
type Config struct {
	Embed     EmbedConfig     `mapstructure:"embed"`
	Document  DocumentConfig  `mapstructure:"document"`
	Index     IndexConfig     `mapstructure:"index"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider"`   // 提供商：openai, ollama, hash
	Model      string        `mapstructure:"model"`      // 模型名称
	APIKey     string        `mapstructure:"api_key"`    // API密钥
	Endpoint   string        `mapstructure:"endpoint"`   // API端点
	Timeout    time.Duration `mapstructure:"timeout"`    // 单次调用超时
	BatchSize  int           `mapstructure:"batch_size"` // 批处理大小
	Workers    int           `mapstructure:"workers"`    // 并行批次数
	Dimensions int           `mapstructure:"dimensions"` // 向量维度，0表示模型默认
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`    // 分块大小
	ChunkOverlap int `mapstructure:"chunk_overlap"` // 分块重叠大小
}

// IndexConfig 索引配置
type IndexConfig struct {
	Location        string `mapstructure:"location"`         // 索引目录
	Searcher        string `mapstructure:"searcher"`         // 检索后端：flat 或 faiss
	KeepGenerations int    `mapstructure:"keep_generations"` // 保留的构建代数量
	SmokeQuery      string `mapstructure:"smoke_query"`      // 构建完成后的自检查询，为空则跳过
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"` // 默认返回的分块数量
}

// CacheConfig 查询向量缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`   // 是否启用缓存
	Type     string        `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address"`  // Redis地址
	Password string        `mapstructure:"password"` // Redis密码
	DB       int           `mapstructure:"db"`       // Redis数据库
	TTL      time.Duration `mapstructure:"ttl"`      // 缓存有效期
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool          `mapstructure:"enable"`         // 是否启用任务队列
	RedisAddr     string        `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string        `mapstructure:"redis_password"` // Redis密码
	RedisDB       int           `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int           `mapstructure:"concurrency"`    // 任务处理并发数
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`   // 单个任务的最长执行时间
}

// StorageConfig 参考文档存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"` // 服务器主机
	Port int    `mapstructure:"port"` // 服务器端口
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`        // 日志级别
	File       string `mapstructure:"file"`         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个日志文件最大尺寸
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧日志文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧日志保留天数
}

// Load 从文件和环境变量加载配置
// configPath为空时只使用默认值与环境变量，指定的文件不存在属于配置错误
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("embed.api_key", "EMBED_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, models.NewError(models.KindConfiguration, "failed to bind environment", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, models.NewError(models.KindConfiguration, "config file "+configPath+" does not exist", err)
			}
			return nil, models.NewError(models.KindConfiguration, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, models.NewError(models.KindConfiguration, "failed to parse config", err)
	}

	expandEnvironmentVariables(&cfg)
	if cfg.Embed.Model == "" && cfg.Embed.Provider == "openai" {
		cfg.Embed.Model = DefaultOpenAIModel
	}
	return &cfg, nil
}

// expandEnvironmentVariables 展开${VAR}形式的配置值
func expandEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
	} {
		*field = expandEnv(*field)
	}
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// Validate 检查配置是否完整
func (c *Config) Validate() error {
	var problems []string

	if c.Embed.Provider == "" {
		problems = append(problems, "embed.provider is required")
	}
	if c.Embed.Provider == "openai" && c.Embed.APIKey == "" {
		problems = append(problems, "OPENAI_API_KEY (or embed.api_key) is required for the openai provider")
	}
	if c.Embed.Timeout < 0 {
		problems = append(problems, "embed.timeout must not be negative")
	}
	if c.Document.ChunkSize < 1 {
		problems = append(problems, "document.chunk_size must be positive")
	}
	if c.Document.ChunkOverlap < 0 || c.Document.ChunkOverlap > c.Document.ChunkSize/2 {
		problems = append(problems, "document.chunk_overlap must be between 0 and half of chunk_size")
	}
	if c.Index.Location == "" {
		problems = append(problems, "index.location is required")
	}
	if c.Retrieval.TopK < 1 {
		problems = append(problems, "retrieval.top_k must be >= 1")
	}
	if c.Cache.Enable && c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		problems = append(problems, fmt.Sprintf("unsupported cache.type %q", c.Cache.Type))
	}
	if c.Storage.Type != "local" && c.Storage.Type != "minio" {
		problems = append(problems, fmt.Sprintf("unsupported storage.type %q", c.Storage.Type))
	}

	if len(problems) > 0 {
		return models.NewError(models.KindConfiguration, strings.Join(problems, "; "), nil)
	}
	return nil
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 嵌入默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.endpoint", "")
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.workers", 4)
	v.SetDefault("embed.dimensions", 0)

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)

	// 索引默认配置
	v.SetDefault("index.location", "./data/index")
	v.SetDefault("index.searcher", "flat")
	v.SetDefault("index.keep_generations", 2)
	v.SetDefault("index.smoke_query", "How do I verify facts?")

	// 检索默认配置
	v.SetDefault("retrieval.top_k", 3)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "1h")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.task_timeout", "30m")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/uploads")
	v.SetDefault("storage.bucket", "truthlens")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}
