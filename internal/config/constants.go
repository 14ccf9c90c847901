package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"

	defaultDBDriver   = "mysql"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultPGPort     = 5432
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "slidecraft"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultSQLiteFile = "slidecraft.db"

	defaultRedisHost = "localhost"
	defaultRedisPort = 6379

	defaultLLMType        = "gemini"
	defaultLLMModel       = "gemini-2.0-flash"
	defaultLLMMaxTokens   = 2048
	defaultLLMTemperature = 0.7
	defaultLLMTopP        = 0.8
	defaultLLMTopK        = 40
	defaultLLMTimeout     = 2 * time.Minute

	defaultImageEndpoint = "https://api-inference.huggingface.co/models"
	defaultPlaceholder   = "/placeholder.png"
	defaultImageCache    = "memory"
	defaultImageCacheTTL = 24 * time.Hour
	defaultImageDelay    = 2 * time.Second

	defaultTextTimeout = 3 * time.Minute
	defaultTaskTTL     = 7 * 24 * time.Hour

	defaultRateLimitMax    = 30
	defaultRateLimitWindow = time.Minute

	defaultStoragePrefix = "slides"
)

func defaultImageModels() []ImageModel {
	return []ImageModel{
		{Name: "stabilityai/stable-diffusion-xl-base-1.0", Timeout: 35 * time.Second},
		{Name: "black-forest-labs/FLUX.1-dev", Timeout: 45 * time.Second},
	}
}
