package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads the config file, applies environment overrides and validates the result.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	raw, err := decodeRaw(path, content)
	if err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return build(raw, path)
}

// FromEnv builds a config from defaults and environment variables only.
func FromEnv() (*AppConfig, error) {
	return build(rawAppConfig{}, "environment")
}

// LoadDotEnv loads KEY=VALUE pairs from path when the file exists.
// Variables already present in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func decodeRaw(path string, content []byte) (rawAppConfig, error) {
	raw := rawAppConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&raw); err != nil {
			return raw, err
		}
	default:
		if len(bytes.TrimSpace(content)) == 0 {
			return raw, nil
		}
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

func build(raw rawAppConfig, source string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyEnvOverrides(&cfg, overrides)
	finalize(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", source, err)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Driver:    defaultDBDriver,
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		LLM: LLMConfig{
			Type:        defaultLLMType,
			Model:       defaultLLMModel,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: defaultLLMTemperature,
			TopP:        defaultLLMTopP,
			TopK:        defaultLLMTopK,
			Timeout:     defaultLLMTimeout,
		},
		Image: ImageConfig{
			Endpoint:     defaultImageEndpoint,
			Models:       defaultImageModels(),
			Placeholder:  defaultPlaceholder,
			Cache:        defaultImageCache,
			CacheTTL:     defaultImageCacheTTL,
			RequestDelay: defaultImageDelay,
		},
		Storage: StorageConfig{
			Prefix: defaultStoragePrefix,
		},
		Generation: GenerationConfig{
			TextTimeout: defaultTextTimeout,
			TaskTTL:     defaultTaskTTL,
		},
		RateLimit: RateLimitConfig{
			Max:    defaultRateLimitMax,
			Window: defaultRateLimitWindow,
		},
	}
	finalize(&cfg)
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	switch {
	case raw.AllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	case raw.CORSAllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.CORSAllowedOrigins)
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Paths.Logs = v
	}

	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	if err := applyRawLLMConfig(&cfg.LLM, raw.LLM); err != nil {
		return err
	}
	if err := applyRawImageConfig(&cfg.Image, raw.Image); err != nil {
		return err
	}
	applyRawStorageConfig(&cfg.Storage, raw.Storage)

	var err error
	if cfg.Generation.TextTimeout, err = parseDurationOr(raw.Generation.TextTimeout, cfg.Generation.TextTimeout); err != nil {
		return fmt.Errorf("generation.text_timeout: %w", err)
	}
	if cfg.Generation.TaskTTL, err = parseDurationOr(raw.Generation.TaskTTL, cfg.Generation.TaskTTL); err != nil {
		return fmt.Errorf("generation.task_ttl: %w", err)
	}
	if raw.RateLimit.Max != 0 {
		cfg.RateLimit.Max = raw.RateLimit.Max
	}
	if cfg.RateLimit.Window, err = parseDurationOr(raw.RateLimit.Window, cfg.RateLimit.Window); err != nil {
		return fmt.Errorf("rate_limit.window: %w", err)
	}
	return nil
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	cfg := current
	db := raw.Database

	if v := strings.TrimSpace(db.Driver); v != "" {
		cfg.Driver = v
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(db.URL); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(db.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(db.Host); v != "" {
		cfg.Host = v
	}
	if db.Port != 0 {
		cfg.Port = db.Port
	} else if strings.EqualFold(cfg.Driver, "postgres") && cfg.Port == defaultDBPort {
		cfg.Port = defaultPGPort
	}
	if v := strings.TrimSpace(db.Username); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(db.User); v != "" {
		cfg.User = v
	}
	if db.Password != "" {
		cfg.Password = db.Password
	}
	if v := strings.TrimSpace(db.DBName); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(db.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(db.Charset); v != "" {
		cfg.Charset = v
	}
	if db.ParseTime != nil {
		cfg.ParseTime = *db.ParseTime
	}
	if v := strings.TrimSpace(db.Loc); v != "" {
		cfg.Loc = v
	}
	if v := strings.TrimSpace(db.SSLMode); v != "" {
		cfg.SSLMode = v
	}
	if db.Params != nil {
		cfg.Params = copyStringMap(db.Params)
	}
	return normalizeDatabaseConfig(cfg)
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	cfg := current
	r := raw.Redis

	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(r.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(r.Host); v != "" {
		cfg.Host = v
	}
	if r.Port != 0 {
		cfg.Port = r.Port
	}
	if v := strings.TrimSpace(r.Username); v != "" {
		cfg.Username = v
	}
	if r.Password != "" {
		cfg.Password = r.Password
	}
	if r.DB != nil {
		cfg.DB = *r.DB
	}
	if r.TLS != nil {
		cfg.TLS = *r.TLS
	}
	return normalizeRedisConfig(cfg)
}

func applyRawLLMConfig(cfg *LLMConfig, raw rawLLMConfig) error {
	if v := strings.TrimSpace(raw.Provider); v != "" {
		cfg.Type = v
	}
	if v := strings.TrimSpace(raw.Type); v != "" {
		cfg.Type = v
	}
	if v := strings.TrimSpace(raw.APIKey); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(raw.Model); v != "" {
		cfg.Model = v
	}
	if raw.MaxTokens > 0 {
		cfg.MaxTokens = raw.MaxTokens
	}
	if raw.Temperature != nil {
		cfg.Temperature = *raw.Temperature
	}
	if raw.TopP != nil {
		cfg.TopP = *raw.TopP
	}
	if raw.TopK != nil {
		cfg.TopK = *raw.TopK
	}
	timeout, err := parseDurationOr(raw.Timeout, cfg.Timeout)
	if err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	cfg.Timeout = timeout
	return nil
}

func applyRawImageConfig(cfg *ImageConfig, raw rawImageConfig) error {
	if v := strings.TrimSpace(raw.APIKey); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		cfg.Endpoint = v
	}
	if len(raw.Models) > 0 {
		models := make([]ImageModel, 0, len(raw.Models))
		for i, m := range raw.Models {
			name := strings.TrimSpace(m.Name)
			if name == "" {
				continue
			}
			timeout, err := parseDurationOr(m.Timeout, 0)
			if err != nil {
				return fmt.Errorf("image.models[%d].timeout: %w", i, err)
			}
			models = append(models, ImageModel{Name: name, Timeout: timeout})
		}
		if len(models) > 0 {
			cfg.Models = models
		}
	}
	if v := strings.TrimSpace(raw.Placeholder); v != "" {
		cfg.Placeholder = v
	}
	if v := strings.TrimSpace(raw.Cache); v != "" {
		cfg.Cache = v
	}

	var err error
	if cfg.CacheTTL, err = parseDurationOr(raw.CacheTTL, cfg.CacheTTL); err != nil {
		return fmt.Errorf("image.cache_ttl: %w", err)
	}
	if cfg.RequestDelay, err = parseDurationOr(raw.RequestDelay, cfg.RequestDelay); err != nil {
		return fmt.Errorf("image.request_delay: %w", err)
	}
	return nil
}

func applyRawStorageConfig(cfg *StorageConfig, raw rawStorageConfig) {
	if raw.Enable != nil {
		cfg.Enable = *raw.Enable
	}
	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(raw.Region); v != "" {
		cfg.Region = v
	}
	if v := strings.TrimSpace(raw.Bucket); v != "" {
		cfg.Bucket = v
	}
	if v := strings.TrimSpace(raw.AccessKeyID); v != "" {
		cfg.AccessKeyID = v
	}
	if v := strings.TrimSpace(raw.SecretAccessKey); v != "" {
		cfg.SecretAccessKey = v
	}
	if v := strings.TrimSpace(raw.CustomDomain); v != "" {
		cfg.CustomDomain = v
	}
	if raw.PathStyleAccess != nil {
		cfg.PathStyleAccess = *raw.PathStyleAccess
	}
	if v := strings.TrimSpace(raw.Prefix); v != "" {
		cfg.Prefix = v
	}
}

func applyEnvOverrides(cfg *AppConfig, o envOverrides) {
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if v := strings.TrimSpace(o.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(o.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(o.LogDir); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(o.DBDriver); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(o.DatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(o.RedisURL); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(o.LLMType); v != "" {
		cfg.LLM.Type = v
	}
	if v := strings.TrimSpace(o.LLMModel); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(o.LLMEndpoint); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := strings.TrimSpace(o.GeminiAPIKey); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(o.LLMAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(o.ImageAPIKey); v != "" {
		cfg.Image.APIKey = v
	}
	if v := strings.TrimSpace(o.S3AccessKey); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := strings.TrimSpace(o.S3SecretKey); v != "" {
		cfg.Storage.SecretAccessKey = v
	}
}

func finalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.Paths = normalizeRuntimePaths(cfg.Paths)
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.LLM = normalizeLLMConfig(cfg.LLM)
	cfg.Image = normalizeImageConfig(cfg.Image)
	cfg.Storage = normalizeStorageConfig(cfg.Storage)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.Database.Driver != "sqlite" && (cfg.Database.Port < 1 || cfg.Database.Port > 65535) {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", cfg.Redis.DB)
	}
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	switch cfg.Image.Cache {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported image.cache %q", cfg.Image.Cache)
	}
	if cfg.Storage.Enable && cfg.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage is enabled")
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

// IsDev reports whether the server runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env == "development" || c.Env == "dev" }

// Addr returns the listen address.
func (c *AppConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// LogDir returns the resolved log directory.
func (c *AppConfig) LogDir() string {
	return ResolveRuntimePath(c.Paths.Logs, "logs")
}
