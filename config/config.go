package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Decompiler DecompilerConfig `mapstructure:"decompiler"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Organiser  OrganiserConfig  `mapstructure:"organiser"`
	Search     SearchConfig     `mapstructure:"search"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	TLS          bool   `mapstructure:"tls"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// StorageConfig 样本与反编译结果的存放位置，OSS 未配置时使用本地目录
type StorageConfig struct {
	Dir string    `mapstructure:"dir"`
	OSS OSSConfig `mapstructure:"oss"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// Enabled OSS 是否已配置
func (c OSSConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.BucketName != ""
}

type DecompilerConfig struct {
	DockerBin       string `mapstructure:"docker_bin"`
	Image           string `mapstructure:"image"`
	WorkDir         string `mapstructure:"work_dir"`
	ContainerPrefix string `mapstructure:"container_prefix"`
	TimeoutMinutes  int    `mapstructure:"timeout_minutes"`
}

type LLMConfig struct {
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PromptsConfig struct {
	IngestPath         string `mapstructure:"ingest_path"`
	OrganisePath       string `mapstructure:"organise_path"`
	OrganiseFormatPath string `mapstructure:"organise_format_path"`
}

type OrganiserConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

type SearchConfig struct {
	Dialect           string `mapstructure:"dialect"` // tidb, basic
	EmbedModel        string `mapstructure:"embed_model"`
	EmbedDimensions   int    `mapstructure:"embed_dimensions"`
	Limit             int    `mapstructure:"limit"`
	SummaryTTLMinutes int    `mapstructure:"summary_ttl_minutes"`
}

type QueueConfig struct {
	PipelineQueue string `mapstructure:"pipeline_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
	Inline        bool   `mapstructure:"inline"` // 不使用 Redis 队列，在 API 进程内执行
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposedHeaders []string `mapstructure:"exposed_headers"`
	// 为 true 时浏览器请求可携带 Authorization 与 Cookie
	AllowCredentials bool `mapstructure:"allow_credentials"`
	MaxAgeSeconds    int  `mapstructure:"max_age_seconds"` // 预检结果缓存时间，0 表示不返回
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"` // 最大文件大小（字节）
}

// CleanupConfig 定时清理与卡住阶段的恢复
type CleanupConfig struct {
	StagingExpireHours int `mapstructure:"staging_expire_hours"`
	StaleAfterMinutes  int `mapstructure:"stale_after_minutes"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("storage.dir", "filestore")
	v.SetDefault("decompiler.docker_bin", "docker")
	v.SetDefault("decompiler.image", "blacktop/ghidra:10")
	v.SetDefault("decompiler.work_dir", "for-docker")
	v.SetDefault("decompiler.container_prefix", "ghidra-")
	v.SetDefault("decompiler.timeout_minutes", 30)
	v.SetDefault("llm.model", "kimi-k2-0711-preview")
	v.SetDefault("llm.base_url", "https://api.moonshot.ai/v1")
	v.SetDefault("llm.timeout_seconds", 600)
	v.SetDefault("prompts.ingest_path", "prompts/ingest.txt")
	v.SetDefault("prompts.organise_path", "prompts/organise.txt")
	v.SetDefault("prompts.organise_format_path", "prompts/organise-format.txt")
	v.SetDefault("organiser.max_iterations", 5)
	v.SetDefault("search.dialect", "tidb")
	v.SetDefault("search.embed_model", "tidbcloud_free/amazon/titan-embed-text-v2")
	v.SetDefault("search.embed_dimensions", 1024)
	v.SetDefault("search.limit", 10)
	v.SetDefault("search.summary_ttl_minutes", 60)
	v.SetDefault("queue.pipeline_queue", "sample_pipeline")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age_seconds", 86400)
	v.SetDefault("upload.max_size", 50*1024*1024)
	v.SetDefault("cleanup.staging_expire_hours", 6)
	v.SetDefault("cleanup.stale_after_minutes", 120)
	v.SetDefault("log.level", "info")
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
