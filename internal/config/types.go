package config

import "time"

// AppConfig holds runtime startup configuration loaded from YAML or TOML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	Env            string                `yaml:"env"` // "development" | "production"
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	Paths          RuntimePathsConfig    `yaml:"paths"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	LLM            LLMConfig             `yaml:"llm"`
	Image          ImageConfig           `yaml:"image"`
	Storage        StorageConfig         `yaml:"storage"`
	Generation     GenerationConfig      `yaml:"generation"`
	RateLimit      RateLimitConfig       `yaml:"rate_limit"`

	// DSN and RedisURL are derived from Database and Redis.
	DSN      string `yaml:"-"`
	RedisURL string `yaml:"-"`
}

type RuntimePathsConfig struct {
	Logs string `yaml:"logs"`
}

type DatabaseRuntimeConfig struct {
	Driver    string            `yaml:"driver"` // mysql | postgres | sqlite
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	SSLMode   string            `yaml:"ssl_mode"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	Type        string        `yaml:"type"` // gemini | openai | openai-compatible | anthropic
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	TopK        int           `yaml:"top_k"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ImageModel is one entry of the ordered image model list.
type ImageModel struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

type ImageConfig struct {
	APIKey       string        `yaml:"api_key"`
	Endpoint     string        `yaml:"endpoint"`
	Models       []ImageModel  `yaml:"models"`
	Placeholder  string        `yaml:"placeholder"`
	Cache        string        `yaml:"cache"` // memory | redis
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	RequestDelay time.Duration `yaml:"request_delay"`
}

type StorageConfig struct {
	Enable          bool   `yaml:"enable"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	CustomDomain    string `yaml:"custom_domain"`
	PathStyleAccess bool   `yaml:"path_style_access"`
	Prefix          string `yaml:"prefix"`
}

type GenerationConfig struct {
	TextTimeout time.Duration `yaml:"text_timeout"`
	TaskTTL     time.Duration `yaml:"task_ttl"`
}

type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// rawAppConfig mirrors the file layout. Pointer fields distinguish "unset" from zero.
type rawAppConfig struct {
	Port               int               `yaml:"port" toml:"port"`
	Env                string            `yaml:"env" toml:"env"`
	AllowedOrigins     []string          `yaml:"allowed_origins" toml:"allowed_origins"`
	CORSAllowedOrigins []string          `yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	JWTSecret          string            `yaml:"jwt_secret" toml:"jwt_secret"`
	LogDir             string            `yaml:"log_dir" toml:"log_dir"`
	Paths              rawPathsConfig    `yaml:"paths" toml:"paths"`
	DSN                string            `yaml:"dsn" toml:"dsn"`
	RedisURL           string            `yaml:"redis_url" toml:"redis_url"`
	Database           rawDatabaseConfig `yaml:"database" toml:"database"`
	Redis              rawRedisConfig    `yaml:"redis" toml:"redis"`
	LLM                rawLLMConfig      `yaml:"llm" toml:"llm"`
	Image              rawImageConfig    `yaml:"image" toml:"image"`
	Storage            rawStorageConfig  `yaml:"storage" toml:"storage"`
	Generation         rawGenerationConf `yaml:"generation" toml:"generation"`
	RateLimit          rawRateLimitConf  `yaml:"rate_limit" toml:"rate_limit"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs" toml:"logs"`
}

type rawDatabaseConfig struct {
	Driver    string            `yaml:"driver" toml:"driver"`
	DSN       string            `yaml:"dsn" toml:"dsn"`
	URL       string            `yaml:"url" toml:"url"`
	Host      string            `yaml:"host" toml:"host"`
	Port      int               `yaml:"port" toml:"port"`
	User      string            `yaml:"user" toml:"user"`
	Username  string            `yaml:"username" toml:"username"`
	Password  string            `yaml:"password" toml:"password"`
	Name      string            `yaml:"name" toml:"name"`
	DBName    string            `yaml:"db_name" toml:"db_name"`
	Charset   string            `yaml:"charset" toml:"charset"`
	ParseTime *bool             `yaml:"parse_time" toml:"parse_time"`
	Loc       string            `yaml:"loc" toml:"loc"`
	SSLMode   string            `yaml:"ssl_mode" toml:"ssl_mode"`
	Params    map[string]string `yaml:"params" toml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	DB       *int   `yaml:"db" toml:"db"`
	TLS      *bool  `yaml:"tls" toml:"tls"`
}

type rawLLMConfig struct {
	Type        string   `yaml:"type" toml:"type"`
	Provider    string   `yaml:"provider" toml:"provider"`
	APIKey      string   `yaml:"api_key" toml:"api_key"`
	Endpoint    string   `yaml:"endpoint" toml:"endpoint"`
	Model       string   `yaml:"model" toml:"model"`
	MaxTokens   int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	TopP        *float64 `yaml:"top_p" toml:"top_p"`
	TopK        *int     `yaml:"top_k" toml:"top_k"`
	Timeout     string   `yaml:"timeout" toml:"timeout"`
}

type rawImageModel struct {
	Name    string `yaml:"name" toml:"name"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

type rawImageConfig struct {
	APIKey       string          `yaml:"api_key" toml:"api_key"`
	Endpoint     string          `yaml:"endpoint" toml:"endpoint"`
	Models       []rawImageModel `yaml:"models" toml:"models"`
	Placeholder  string          `yaml:"placeholder" toml:"placeholder"`
	Cache        string          `yaml:"cache" toml:"cache"`
	CacheTTL     string          `yaml:"cache_ttl" toml:"cache_ttl"`
	RequestDelay string          `yaml:"request_delay" toml:"request_delay"`
}

type rawStorageConfig struct {
	Enable          *bool  `yaml:"enable" toml:"enable"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	Region          string `yaml:"region" toml:"region"`
	Bucket          string `yaml:"bucket" toml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	CustomDomain    string `yaml:"custom_domain" toml:"custom_domain"`
	PathStyleAccess *bool  `yaml:"path_style_access" toml:"path_style_access"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
}

type rawGenerationConf struct {
	TextTimeout string `yaml:"text_timeout" toml:"text_timeout"`
	TaskTTL     string `yaml:"task_ttl" toml:"task_ttl"`
}

type rawRateLimitConf struct {
	Max    int    `yaml:"max" toml:"max"`
	Window string `yaml:"window" toml:"window"`
}

// envOverrides is populated from the process environment after the file is applied.
type envOverrides struct {
	Port         int    `env:"SLIDECRAFT_PORT"`
	Env          string `env:"SLIDECRAFT_ENV"`
	JWTSecret    string `env:"SLIDECRAFT_JWT_SECRET"`
	LogDir       string `env:"SLIDECRAFT_LOG_DIR"`
	DBDriver     string `env:"DATABASE_DRIVER"`
	DatabaseDSN  string `env:"DATABASE_DSN"`
	RedisURL     string `env:"REDIS_URL"`
	LLMType      string `env:"LLM_PROVIDER"`
	LLMModel     string `env:"LLM_MODEL"`
	LLMEndpoint  string `env:"LLM_ENDPOINT"`
	LLMAPIKey    string `env:"LLM_API_KEY"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	ImageAPIKey  string `env:"HUGGINGFACE_API_KEY"`
	S3AccessKey  string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey  string `env:"S3_SECRET_ACCESS_KEY"`
}
