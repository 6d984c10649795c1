package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported chat providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Chat        ChatConfig      `mapstructure:"chat"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Weather     WeatherConfig   `mapstructure:"weather"`
	RateLimits  RateLimitConfig `mapstructure:"rate_limits"`
	Log         LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host" validate:"required"`
	Port        int      `mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// MaxMessageChars bounds a single chat message after normalization.
	MaxMessageChars int           `mapstructure:"max_message_chars" validate:"min=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LLMConfig struct {
	Provider      string          `mapstructure:"provider" validate:"oneof=openai anthropic"`
	OpenAI        OpenAIConfig    `mapstructure:"openai"`
	Anthropic     AnthropicConfig `mapstructure:"anthropic"`
	Timeout       time.Duration   `mapstructure:"timeout" validate:"min=0"`
	MaxRetries    int             `mapstructure:"max_retries" validate:"min=0,max=10"`
	MaxIterations int             `mapstructure:"max_iterations" validate:"min=1,max=50"`
	Temperature   float64         `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens     int             `mapstructure:"max_tokens" validate:"min=0"`
	// RetryAuth retries authentication failures like any other error.
	RetryAuth bool `mapstructure:"retry_auth"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ChatConfig struct {
	RAGLimit        int  `mapstructure:"rag_limit" validate:"min=0,max=20"`
	ConcurrentTools bool `mapstructure:"concurrent_tools"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=openai gemini ollama none"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	// BaseURL is used by ollama.
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type WeatherConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	DefaultLocation string        `mapstructure:"default_location"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type RateLimitConfig struct {
	ChatPerMinute         int `mapstructure:"chat_per_minute" validate:"min=1"`
	ScheduleSavePerMinute int `mapstructure:"schedule_save_per_minute" validate:"min=1"`
	ActivitySavePerMinute int `mapstructure:"activity_save_per_minute" validate:"min=1"`
	DeletePerMinute       int `mapstructure:"delete_per_minute" validate:"min=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads config.yaml from the config dir (or the explicit path), then
// applies KCP_* environment overrides and the legacy variable names.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("kcp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path == "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(&cfg)
	resolveCredentials(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.max_message_chars", 4000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.anthropic.model", "claude-3-5-sonnet-latest")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.max_iterations", 10)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.retry_auth", false)

	v.SetDefault("chat.rag_limit", 3)
	v.SetDefault("chat.concurrent_tools", false)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "http://localhost:11434")

	v.SetDefault("database.path", "")

	v.SetDefault("weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.default_location", "Lansing, MI")
	v.SetDefault("weather.cache_ttl", 30*time.Minute)

	v.SetDefault("rate_limits.chat_per_minute", 20)
	v.SetDefault("rate_limits.schedule_save_per_minute", 10)
	v.SetDefault("rate_limits.activity_save_per_minute", 15)
	v.SetDefault("rate_limits.delete_per_minute", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applyLegacyEnv honours the variable names used by earlier deployments.
func applyLegacyEnv(cfg *Config) {
	if p := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER"))); p != "" {
		cfg.LLM.Provider = p
	}
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		cfg.LLM.OpenAI.Model = m
	}
	if m := os.Getenv("ANTHROPIC_MODEL"); m != "" {
		cfg.LLM.Anthropic.Model = m
	}
	if s := os.Getenv("LLM_TIMEOUT_SECONDS"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
			cfg.LLM.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if s := os.Getenv("LLM_MAX_RETRIES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.LLM.MaxRetries = n
		}
	}
	if s := os.Getenv("CHAT_RATE_LIMIT_PER_MIN"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.RateLimits.ChatPerMinute = n
		}
	}
	if s := os.Getenv("CORS_ORIGINS"); s != "" {
		var origins []string
		for _, o := range strings.Split(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = strings.ToLower(lvl)
	}
	if p := os.Getenv("MEMORY_DB_PATH"); p != "" && cfg.Database.Path == "" {
		cfg.Database.Path = p
	}
}

// resolveCredentials expands $VAR references and falls back to the
// conventional provider environment variables.
func resolveCredentials(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = firstNonEmpty(expandEnv(cfg.LLM.OpenAI.APIKey), os.Getenv("OPENAI_API_KEY"))
	cfg.LLM.Anthropic.APIKey = firstNonEmpty(expandEnv(cfg.LLM.Anthropic.APIKey), os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Weather.APIKey = firstNonEmpty(expandEnv(cfg.Weather.APIKey), os.Getenv("OPENWEATHER_API_KEY"))
	switch cfg.Embedding.Provider {
	case "gemini":
		cfg.Embedding.APIKey = firstNonEmpty(expandEnv(cfg.Embedding.APIKey), os.Getenv("GEMINI_API_KEY"))
	default:
		// Embeddings default to the chat OpenAI key.
		cfg.Embedding.APIKey = firstNonEmpty(expandEnv(cfg.Embedding.APIKey), cfg.LLM.OpenAI.APIKey)
	}
}

var validate = validator.New()

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ChatAPIKey returns the key for the configured chat provider.
func (c *Config) ChatAPIKey() string {
	switch c.LLM.Provider {
	case ProviderAnthropic:
		return c.LLM.Anthropic.APIKey
	default:
		return c.LLM.OpenAI.APIKey
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// GetConfigDir returns the XDG config directory for kcp.
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "kcp"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "kcp"), nil
}

// GetDataDir returns the XDG data directory used for the sqlite database.
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "kcp"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "kcp"), nil
}

// ApplyOverrides applies CLI flag overrides. An empty provider keeps the
// configured one; the model applies to whichever provider is active.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.LLM.Provider = provider
	}
	if model == "" {
		return
	}
	switch c.LLM.Provider {
	case ProviderAnthropic:
		c.LLM.Anthropic.Model = model
	default:
		c.LLM.OpenAI.Model = model
	}
}
