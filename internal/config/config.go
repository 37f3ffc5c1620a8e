package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	AI        AIConfig        `yaml:"ai"`
	Speech    SpeechConfig    `yaml:"speech"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json 或 console
}

// 对话生成后端
const (
	AIProviderArk    = "ark"
	AIProviderOpenAI = "openai"
	AIProviderLocal  = "local"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string `yaml:"provider"`

	// Ark (火山方舟)
	ArkAPIKey    string `yaml:"ark_api_key"`
	ArkAccessKey string `yaml:"ark_access_key"`
	ArkSecretKey string `yaml:"ark_secret_key"`
	ArkModel     string `yaml:"ark_model"`
	ArkBaseURL   string `yaml:"ark_base_url"`
	ArkRegion    string `yaml:"ark_region"`

	// OpenAI 及兼容接口
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	// 本地推理（Ollama 等 OpenAI 兼容服务）
	LocalBaseURL string `yaml:"local_base_url"`
	LocalModel   string `yaml:"local_model"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// 语音后端
const (
	SpeechProviderOpenAI     = "openai"
	SpeechProviderVolcengine = "volcengine"
)

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	Provider        string `yaml:"provider"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	WhisperModel    string `yaml:"whisper_model"`
	TTSModel        string `yaml:"tts_model"`
	DefaultVoice    string `yaml:"default_voice"`
	DefaultLanguage string `yaml:"default_language"`

	AppID          string `yaml:"app_id"`
	AccessToken    string `yaml:"access_token"`
	ConcurrentMode bool   `yaml:"concurrent_mode"`
	ASRLanguage    string `yaml:"asr_language"`
	TTSVoice       string `yaml:"tts_voice"`
	TTSLanguage    string `yaml:"tts_language"`

	Timeout time.Duration `yaml:"timeout"`
}

// AudioConfig 音频校验限制
type AudioConfig struct {
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`
	MaxDurationSeconds int      `yaml:"max_duration_seconds"`
	SupportedFormats   []string `yaml:"supported_formats"`
}

// MaxFileSizeBytes 返回字节数上限。
func (c AudioConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// MaxDuration 返回时长上限。
func (c AudioConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// SessionConfig 会话生命周期
type SessionConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxHistory      int           `yaml:"max_history"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// 会话存储驱动
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// StoreConfig 会话存储配置
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	WSMessageRPS   float64 `yaml:"ws_message_rps"`
	WSMessageBurst int     `yaml:"ws_message_burst"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Default 返回全部默认值。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		AI: AIConfig{
			Provider:     AIProviderLocal,
			ArkBaseURL:   "https://ark.cn-beijing.volces.com/api/v3",
			ArkRegion:    "cn-beijing",
			OpenAIModel:  "gpt-4o-mini",
			LocalBaseURL: "http://localhost:11434/v1",
			LocalModel:   "gpt-oss:20b",
			Temperature:  0.7,
			MaxTokens:    500,
			Timeout:      60 * time.Second,
		},
		Speech: SpeechConfig{
			Provider:        SpeechProviderOpenAI,
			WhisperModel:    "whisper-1",
			TTSModel:        "tts-1",
			DefaultVoice:    "alloy",
			DefaultLanguage: "en",
			ASRLanguage:     "zh-CN",
			TTSLanguage:     "zh-CN",
			Timeout:         30 * time.Second,
		},
		Audio: AudioConfig{
			MaxFileSizeMB:      25,
			MaxDurationSeconds: 300,
			SupportedFormats:   []string{"wav", "mp3", "m4a", "webm", "mp4"},
		},
		Session: SessionConfig{
			Timeout:         30 * time.Minute,
			MaxHistory:      10,
			CleanupInterval: 5 * time.Minute,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Redis:  RedisConfig{Addr: "localhost:6379", KeyPrefix: "voicegw:"},
		},
		RateLimit: RateLimitConfig{
			RPS:            10,
			Burst:          20,
			WSMessageRPS:   20,
			WSMessageBurst: 40,
		},
		Metrics: MetricsConfig{Namespace: "voice_gateway"},
	}
}

// Load 依次应用默认值、可选的 YAML 文件（CONFIG_FILE）与环境变量。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	addr, err := parseAddr(getEnvOrDefault("PORT", cfg.Server.Addr))
	if err != nil {
		return err
	}
	cfg.Server.Addr = addr

	if cfg.Server.ShutdownTimeout, err = parseDurationEnv("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvOrDefault("LOG_FORMAT", cfg.Log.Format)

	if err := applyAIEnv(&cfg.AI); err != nil {
		return err
	}
	if err := applySpeechEnv(&cfg.Speech, cfg.AI.OpenAIAPIKey); err != nil {
		return err
	}

	if cfg.Audio.MaxFileSizeMB, err = parseIntEnv("AUDIO_MAX_FILE_SIZE_MB", cfg.Audio.MaxFileSizeMB); err != nil {
		return err
	}
	if cfg.Audio.MaxDurationSeconds, err = parseIntEnv("AUDIO_MAX_DURATION_SECONDS", cfg.Audio.MaxDurationSeconds); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("AUDIO_SUPPORTED_FORMATS")); raw != "" {
		cfg.Audio.SupportedFormats = splitList(raw)
	}

	timeoutMinutes, err := parseOptionalIntEnv("SESSION_TIMEOUT_MINUTES")
	if err != nil {
		return err
	}
	if timeoutMinutes != nil {
		cfg.Session.Timeout = time.Duration(*timeoutMinutes) * time.Minute
	}
	if cfg.Session.MaxHistory, err = parseIntEnv("SESSION_MAX_HISTORY", cfg.Session.MaxHistory); err != nil {
		return err
	}
	if cfg.Session.CleanupInterval, err = parseDurationEnv("SESSION_CLEANUP_INTERVAL", cfg.Session.CleanupInterval); err != nil {
		return err
	}

	cfg.Store.Driver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.DSN = getEnvOrDefault("DATABASE_DSN", cfg.Store.DSN)
	cfg.Store.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Redis.KeyPrefix = getEnvOrDefault("REDIS_KEY_PREFIX", cfg.Store.Redis.KeyPrefix)
	if cfg.Store.Redis.DB, err = parseIntEnv("REDIS_DB", cfg.Store.Redis.DB); err != nil {
		return err
	}

	if cfg.RateLimit.RPS, err = parseFloatEnv("RATE_LIMIT_RPS", cfg.RateLimit.RPS); err != nil {
		return err
	}
	if cfg.RateLimit.Burst, err = parseIntEnv("RATE_LIMIT_BURST", cfg.RateLimit.Burst); err != nil {
		return err
	}
	if cfg.RateLimit.WSMessageRPS, err = parseFloatEnv("WS_MESSAGE_RPS", cfg.RateLimit.WSMessageRPS); err != nil {
		return err
	}
	if cfg.RateLimit.WSMessageBurst, err = parseIntEnv("WS_MESSAGE_BURST", cfg.RateLimit.WSMessageBurst); err != nil {
		return err
	}

	cfg.Metrics.Namespace = getEnvOrDefault("METRICS_NAMESPACE", cfg.Metrics.Namespace)
	return nil
}

func applyAIEnv(ai *AIConfig) error {
	var err error
	ai.Provider = strings.ToLower(getEnvOrDefault("AI_PROVIDER", ai.Provider))

	ai.ArkAPIKey = getEnvOrDefault("ARK_API_KEY", ai.ArkAPIKey)
	ai.ArkAccessKey = getEnvOrDefault("ARK_ACCESS_KEY", ai.ArkAccessKey)
	ai.ArkSecretKey = getEnvOrDefault("ARK_SECRET_KEY", ai.ArkSecretKey)
	ai.ArkModel = getEnvOrDefault("ARK_MODEL", ai.ArkModel)
	ai.ArkBaseURL = getEnvOrDefault("ARK_BASE_URL", ai.ArkBaseURL)
	ai.ArkRegion = getEnvOrDefault("ARK_REGION", ai.ArkRegion)

	ai.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", ai.OpenAIAPIKey)
	ai.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", ai.OpenAIBaseURL)
	ai.OpenAIModel = getEnvOrDefault("AI_MODEL", ai.OpenAIModel)

	ai.LocalBaseURL = getEnvOrDefault("LOCAL_BASE_URL", ai.LocalBaseURL)
	ai.LocalModel = getEnvOrDefault("LOCAL_MODEL", ai.LocalModel)

	if ai.Temperature, err = parseFloatEnv("AI_TEMPERATURE", ai.Temperature); err != nil {
		return err
	}
	if ai.MaxTokens, err = parseIntEnv("AI_MAX_TOKENS", ai.MaxTokens); err != nil {
		return err
	}
	if ai.Timeout, err = parseDurationEnv("AI_TIMEOUT", ai.Timeout); err != nil {
		return err
	}
	return nil
}

func applySpeechEnv(sp *SpeechConfig, sharedOpenAIKey string) error {
	var err error
	sp.Provider = strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", sp.Provider))

	sp.OpenAIAPIKey = getEnvOrDefault("SPEECH_OPENAI_API_KEY", sp.OpenAIAPIKey)
	if sp.OpenAIAPIKey == "" {
		// 未单独配置时沿用对话生成的 OpenAI 密钥
		sp.OpenAIAPIKey = sharedOpenAIKey
	}
	sp.OpenAIBaseURL = getEnvOrDefault("SPEECH_OPENAI_BASE_URL", sp.OpenAIBaseURL)
	sp.WhisperModel = getEnvOrDefault("WHISPER_MODEL", sp.WhisperModel)
	sp.TTSModel = getEnvOrDefault("TTS_MODEL", sp.TTSModel)
	sp.DefaultVoice = strings.ToLower(getEnvOrDefault("TTS_VOICE", sp.DefaultVoice))
	sp.DefaultLanguage = getEnvOrDefault("SPEECH_DEFAULT_LANGUAGE", sp.DefaultLanguage)

	sp.AppID = getEnvOrDefault("SPEECH_APP_ID", sp.AppID)
	sp.AccessToken = getEnvOrDefault("SPEECH_ACCESS_TOKEN", sp.AccessToken)
	if sp.ConcurrentMode, err = parseBoolEnv("SPEECH_CONCURRENT_MODE", sp.ConcurrentMode); err != nil {
		return err
	}
	sp.ASRLanguage = getEnvOrDefault("SPEECH_ASR_LANGUAGE", sp.ASRLanguage)
	sp.TTSVoice = getEnvOrDefault("SPEECH_TTS_VOICE", sp.TTSVoice)
	sp.TTSLanguage = getEnvOrDefault("SPEECH_TTS_LANGUAGE", sp.TTSLanguage)

	timeoutSeconds, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return err
	}
	if timeoutSeconds != nil {
		sp.Timeout = time.Duration(*timeoutSeconds) * time.Second
	}
	return nil
}

// Validate 校验取值范围与枚举。
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case AIProviderArk, AIProviderOpenAI, AIProviderLocal:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value: %q", c.AI.Provider)
	}
	switch c.Speech.Provider {
	case SpeechProviderOpenAI, SpeechProviderVolcengine:
	default:
		return fmt.Errorf("invalid SPEECH_PROVIDER value: %q", c.Speech.Provider)
	}
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("invalid STORE_DRIVER value: %q", c.Store.Driver)
	}
	if c.Store.Driver == StorePostgres && c.Store.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for the postgres store")
	}
	if c.Audio.MaxFileSizeMB <= 0 || c.Audio.MaxDurationSeconds <= 0 {
		return fmt.Errorf("audio limits must be positive")
	}
	if c.Session.MaxHistory < 1 {
		c.Session.MaxHistory = 1
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	return nil
}

// ArkEnabled 表示 Ark 是否提供了必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	temperature := float32(c.Temperature)
	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

// parseAddr 允许 "8080"、":8080" 或 "127.0.0.1:8080"。
func parseAddr(port string) (string, error) {
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
