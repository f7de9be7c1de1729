// Package config loads the process configuration from the environment,
// following the teacher's getEnv/.env convention but injected explicitly
// into each collaborator instead of read through a package-level global.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"quel-drawcore/internal/selector"
)

// Config is every environment-sourced setting the orchestration core and
// its storage/transport adapters need.
type Config struct {
	// Postgres (internal/store/pgstore)
	DatabaseURL string

	// Redis (internal/lock)
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Official backend (google.golang.org/genai)
	GenAIAPIKey string
	GenAIModel  string

	// Partner backend (cloud.google.com/go/vertexai/genai)
	VertexProject  string
	VertexLocation string
	VertexModel    string

	// Chat backend (gorilla/websocket gateway)
	ChatGatewayURL string
	ChatBotToken   string

	// HTTP submit surface (gorilla/mux)
	Port string

	// Scheduling
	AccountChooseRule selector.Policy

	// Feature flags, spec.md §6
	EnableVerticalDomain          bool
	EnableUserCustomUploadBase64  bool
	EnableSaveUserUploadLink      bool
	EnableYouChuanPromptLink      bool
	EnableConvertNijiToMj         bool
	EnableVideo                   bool

	// HTTP edge rate limiting, consumed outside the core
	IPRateLimiting      int
	IPBlackRateLimiting int

	// Log file rotation (gopkg.in/natefinch/lumberjack.v2)
	LogFilePath string

	// Upload sub-protocol storage backend, for the base64 decode path
	StorageBaseURL    string
	StorageServiceKey string
	StorageBucket     string
}

// Load reads .env (if present) then the process environment, the same
// fallback order the teacher's config package uses.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// absence of a .env file is not an error outside local dev
		_ = err
	}

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", true),

		GenAIAPIKey: getEnv("GENAI_API_KEY", ""),
		GenAIModel:  getEnv("GENAI_MODEL", "gemini-2.5-flash-image"),

		VertexProject:  getEnv("VERTEX_PROJECT", ""),
		VertexLocation: getEnv("VERTEX_LOCATION", "us-central1"),
		VertexModel:    getEnv("VERTEX_MODEL", "imagen-3.0-generate-001"),

		ChatGatewayURL: getEnv("CHAT_GATEWAY_URL", ""),
		ChatBotToken:   getEnv("CHAT_BOT_TOKEN", ""),

		Port: getEnv("PORT", "8080"),

		AccountChooseRule: selector.Policy(getEnv("ACCOUNT_CHOOSE_RULE", string(selector.PolicyBestWaitIdle))),

		EnableVerticalDomain:         getEnvBool("ENABLE_VERTICAL_DOMAIN", false),
		EnableUserCustomUploadBase64: getEnvBool("ENABLE_USER_CUSTOM_UPLOAD_BASE64", true),
		EnableSaveUserUploadLink:     getEnvBool("ENABLE_SAVE_USER_UPLOAD_LINK", true),
		EnableYouChuanPromptLink:     getEnvBool("ENABLE_YOU_CHUAN_PROMPT_LINK", false),
		EnableConvertNijiToMj:        getEnvBool("ENABLE_CONVERT_NIJI_TO_MJ", false),
		EnableVideo:                  getEnvBool("ENABLE_VIDEO", false),

		IPRateLimiting:      getEnvInt("IP_RATE_LIMITING", 60),
		IPBlackRateLimiting: getEnvInt("IP_BLACK_RATE_LIMITING", 10),

		LogFilePath: getEnv("LOG_FILE_PATH", "./logs/drawcore.log"),

		StorageBaseURL:    getEnv("STORAGE_BASE_URL", ""),
		StorageServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:     getEnv("STORAGE_BUCKET", "attachments"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.AccountChooseRule {
	case selector.PolicyBestWaitIdle, selector.PolicyRandom, selector.PolicyWeight, selector.PolicyPolling:
	default:
		return fmt.Errorf("ACCOUNT_CHOOSE_RULE %q is not one of BestWaitIdle/Random/Weight/Polling", c.AccountChooseRule)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// RedisAddr builds the host:port string internal/lock.Connect expects.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
