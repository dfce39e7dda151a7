package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

const (
	defaultPort         = "8000"
	defaultBaseURL      = "https://integrate.api.nvidia.com/v1"
	defaultModel        = "nvidia/llama-3.1-nemotron-70b-instruct"
	defaultArkBaseURL   = "https://ark.cn-beijing.volces.com/api/v3"
	defaultArkRegion    = "cn-beijing"
	defaultSystemPrompt = "You are an expert assistant. Always provide answers in markdown format."
	defaultTemperature  = 0.5
	defaultHistoryLimit = 10
	defaultMaxContext   = 3000
	defaultUploadMax    = 10 << 20 // 10 MiB
	defaultStorePath    = "memory.db"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
	Upload UploadConfig
}

// Load resolves configuration from the environment, optionally overlaid on
// a TOML file named by CHAT_CONFIG. Environment variables win over the file.
func Load() (*Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(file)
	if err != nil {
		return nil, err
	}

	storeCfg, err := loadStoreConfig(file)
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig(file)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: storeCfg, Upload: upload}, nil
}

// fileConfig mirrors the optional TOML file pointed at by CHAT_CONFIG.
type fileConfig struct {
	Port   string           `toml:"port"`
	AI     fileAIConfig     `toml:"ai"`
	Store  fileStoreConfig  `toml:"store"`
	Upload fileUploadConfig `toml:"upload"`
}

type fileAIConfig struct {
	Provider     string   `toml:"provider"`
	APIKey       string   `toml:"api_key"`
	BaseURL      string   `toml:"base_url"`
	Model        string   `toml:"model"`
	Temperature  *float64 `toml:"temperature"`
	TopP         *float64 `toml:"top_p"`
	MaxTokens    *int     `toml:"max_tokens"`
	Stream       *bool    `toml:"stream"`
	SystemPrompt string   `toml:"system_prompt"`
	HistoryLimit *int     `toml:"history_limit"`
}

type fileStoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type fileUploadConfig struct {
	MaxSizeBytes     *int64   `toml:"max_size_bytes"`
	Extensions       []string `toml:"extensions"`
	MaxContextLength *int     `toml:"max_context_length"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig(file fileConfig) (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = strings.TrimSpace(file.Port)
	}
	if port == "" {
		port = defaultPort
	}

	if strings.Contains(port, ":") {
		// Accept ":8000" or "127.0.0.1:8000" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the language model connection and prompting defaults.
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	SystemPrompt   string
	HistoryLimit   int
}

// Enabled reports whether credentials sufficient for the provider are set.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model client for the configured provider.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: provide LLM_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and LLM_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER value %q (want %s or %s)", c.Provider, ProviderOpenAI, ProviderArk)
	}
}

func loadAIConfig(file fileConfig) (AIConfig, error) {
	fa := file.AI

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		temperature = fa.Temperature
	}
	if temperature == nil {
		val := float64(defaultTemperature)
		temperature = &val
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}
	if topP == nil {
		topP = fa.TopP
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		maxTokens = fa.MaxTokens
	}

	streamDefault := true
	if fa.Stream != nil {
		streamDefault = *fa.Stream
	}
	stream, err := parseBoolEnv("LLM_STREAM", streamDefault)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := defaultHistoryLimit
	if fa.HistoryLimit != nil {
		historyLimit = *fa.HistoryLimit
	}
	if override, err := parseOptionalIntEnv("HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = *override
	}

	provider := getEnvOrDefault("LLM_PROVIDER", orDefault(fa.Provider, ProviderOpenAI))
	provider = strings.ToLower(provider)
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("unknown LLM_PROVIDER value %q (want %s or %s)", provider, ProviderOpenAI, ProviderArk)
	}

	baseURLDefault := defaultBaseURL
	if provider == ProviderArk {
		baseURLDefault = defaultArkBaseURL
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         getEnvOrDefault("LLM_API_KEY", fa.APIKey),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          getEnvOrDefault("LLM_MODEL", orDefault(fa.Model, defaultModel)),
		BaseURL:        getEnvOrDefault("LLM_BASE_URL", orDefault(fa.BaseURL, baseURLDefault)),
		Region:         getEnvOrDefault("ARK_REGION", defaultArkRegion),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		SystemPrompt:   getEnvOrDefault("LLM_SYSTEM_PROMPT", orDefault(fa.SystemPrompt, defaultSystemPrompt)),
		HistoryLimit:   historyLimit,
	}, nil
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string
	Path    string
}

func loadStoreConfig(file fileConfig) (StoreConfig, error) {
	backend := getEnvOrDefault("STORE_BACKEND", orDefault(file.Store.Backend, StoreMemory))
	backend = strings.ToLower(backend)
	if backend != StoreMemory && backend != StoreSQLite {
		return StoreConfig{}, fmt.Errorf("unknown STORE_BACKEND value %q (want %s or %s)", backend, StoreMemory, StoreSQLite)
	}

	return StoreConfig{
		Backend: backend,
		Path:    getEnvOrDefault("STORE_PATH", orDefault(file.Store.Path, defaultStorePath)),
	}, nil
}

// UploadConfig bounds document uploads.
type UploadConfig struct {
	MaxSizeBytes     int64
	Extensions       []string
	MaxContextLength int
}

func loadUploadConfig(file fileConfig) (UploadConfig, error) {
	maxSize := int64(defaultUploadMax)
	if file.Upload.MaxSizeBytes != nil {
		maxSize = *file.Upload.MaxSizeBytes
	}
	if override, err := parseOptionalIntEnv("UPLOAD_MAX_SIZE"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		maxSize = int64(*override)
	}
	if maxSize <= 0 {
		return UploadConfig{}, fmt.Errorf("invalid UPLOAD_MAX_SIZE value %d: must be positive", maxSize)
	}

	maxContext := defaultMaxContext
	if file.Upload.MaxContextLength != nil {
		maxContext = *file.Upload.MaxContextLength
	}
	if override, err := parseOptionalIntEnv("MAX_CONTEXT_LENGTH"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		maxContext = *override
	}

	extensions := file.Upload.Extensions
	if raw := strings.TrimSpace(os.Getenv("UPLOAD_EXTENSIONS")); raw != "" {
		extensions = strings.Split(raw, ",")
	}
	if len(extensions) == 0 {
		extensions = []string{"txt", "pdf"}
	}
	cleaned := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			cleaned = append(cleaned, ext)
		}
	}
	if len(cleaned) == 0 {
		return UploadConfig{}, fmt.Errorf("invalid UPLOAD_EXTENSIONS value: no usable extensions")
	}

	return UploadConfig{
		MaxSizeBytes:     maxSize,
		Extensions:       cleaned,
		MaxContextLength: maxContext,
	}, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
