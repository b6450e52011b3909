package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Provider display names. These match the names used by the client registry
// and the summarize-model mapping.
const (
	ProviderOpenAI   = "OpenAI"
	ProviderGoogle   = "Google"
	ProviderDeepSeek = "DeepSeek"
)

// ModelConfig controls how a single session talks to its model. Every
// session carries one (via its mask); the global default seeds new masks.
type ModelConfig struct {
	Model                          string  `json:"model"`
	Provider                       string  `json:"provider"`
	Temperature                    float64 `json:"temperature"`
	MaxTokens                      int     `json:"max_tokens"`
	HistoryMessageCount            int     `json:"history_message_count"`
	SendMemory                     bool    `json:"send_memory"`
	EnableInjectSystemPrompts      bool    `json:"enable_inject_system_prompts"`
	CompressMessageLengthThreshold int     `json:"compress_message_length_threshold"`
	CompressModel                  string  `json:"compress_model"`
	CompressProvider               string  `json:"compress_provider"`
	Template                       string  `json:"template"`
}

// ProviderConfig is the transport configuration for one backend provider.
type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

// ThreadConfig configures the remote assistant-thread surface.
type ThreadConfig struct {
	BaseURL       string `json:"base_url"`
	ConfigURL     string `json:"config_url"`
	AssistantID   string `json:"assistant_id"`
	SyncSeconds   int    `json:"sync_seconds"`
	PollSeconds   int    `json:"poll_seconds"`
	RequestTimeMS int    `json:"request_time_ms"`
}

// StorageConfig locates the persistence database.
type StorageConfig struct {
	BaseDir string `json:"base_dir"`
	DBFile  string `json:"db_file"`
}

// App is the full application configuration.
type App struct {
	ModelConfig             ModelConfig               `json:"model_config"`
	Providers               map[string]ProviderConfig `json:"providers"`
	Thread                  ThreadConfig              `json:"thread"`
	Storage                 StorageConfig             `json:"storage"`
	EnableAutoGenerateTitle bool                      `json:"enable_auto_generate_title"`
	AvailableModels         []string                  `json:"available_models"`
	Locale                  string                    `json:"locale"`
}

// ModelAvailable reports whether a model appears in the configured
// availability list. An empty list means nothing is advertised.
func (a *App) ModelAvailable(model string) bool {
	for _, m := range a.AvailableModels {
		if m == model {
			return true
		}
	}
	return false
}

// ProviderFor returns the transport config for a provider name, falling
// back to the OpenAI entry.
func (a *App) ProviderFor(name string) ProviderConfig {
	if p, ok := a.Providers[name]; ok {
		return p
	}
	return a.Providers[ProviderOpenAI]
}

func Default() App {
	return App{
		ModelConfig: ModelConfig{
			Model:                          "gpt-4o-mini",
			Provider:                       ProviderOpenAI,
			Temperature:                    0.5,
			MaxTokens:                      4000,
			HistoryMessageCount:            4,
			SendMemory:                     true,
			EnableInjectSystemPrompts:      true,
			CompressMessageLengthThreshold: 1000,
		},
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {
				BaseURL:   "https://api.openai.com/v1",
				TimeoutMS: 120000,
			},
			ProviderGoogle: {
				BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai",
				TimeoutMS: 120000,
			},
			ProviderDeepSeek: {
				BaseURL:   "https://api.deepseek.com/v1",
				TimeoutMS: 120000,
			},
		},
		Thread: ThreadConfig{
			BaseURL:       "https://api.openai.com/v1",
			SyncSeconds:   5,
			PollSeconds:   1,
			RequestTimeMS: 60000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.chatd",
			DBFile:  "chatd.db",
		},
		EnableAutoGenerateTitle: true,
		AvailableModels:         []string{"gpt-4o-mini", "gpt-4o"},
	}
}

type fileConfig struct {
	ModelConfig             *ModelConfig              `json:"model_config"`
	Providers               map[string]ProviderConfig `json:"providers"`
	Thread                  *ThreadConfig             `json:"thread"`
	Storage                 *StorageConfig            `json:"storage"`
	EnableAutoGenerateTitle *bool                     `json:"enable_auto_generate_title"`
	AvailableModels         *[]string                 `json:"available_models"`
	Locale                  *string                   `json:"locale"`
}

// Load reads the configuration file (global then explicit path) and applies
// environment overrides on top.
func Load(path string) (App, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return App{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("CHATD_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return App{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".chatd", "config.json")}
}

func mergeFromFile(cfg *App, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if file.ModelConfig != nil {
		cfg.ModelConfig = *file.ModelConfig
	}
	for name, p := range file.Providers {
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		merged := cfg.Providers[name]
		if strings.TrimSpace(p.BaseURL) != "" {
			merged.BaseURL = p.BaseURL
		}
		if strings.TrimSpace(p.APIKey) != "" {
			merged.APIKey = p.APIKey
		}
		if p.TimeoutMS > 0 {
			merged.TimeoutMS = p.TimeoutMS
		}
		cfg.Providers[name] = merged
	}
	if file.Thread != nil {
		cfg.Thread = *file.Thread
	}
	if file.Storage != nil {
		cfg.Storage = *file.Storage
	}
	if file.EnableAutoGenerateTitle != nil {
		cfg.EnableAutoGenerateTitle = *file.EnableAutoGenerateTitle
	}
	if file.AvailableModels != nil {
		cfg.AvailableModels = append([]string(nil), (*file.AvailableModels)...)
	}
	if file.Locale != nil {
		cfg.Locale = *file.Locale
	}
	return nil
}

// applyEnv 环境变量覆盖文件配置 / Environment variables override file config.
func applyEnv(cfg *App) {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		p := cfg.Providers[ProviderOpenAI]
		p.APIKey = v
		cfg.Providers[ProviderOpenAI] = p
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" {
		p := cfg.Providers[ProviderGoogle]
		p.APIKey = v
		cfg.Providers[ProviderGoogle] = p
	}
	if v := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")); v != "" {
		p := cfg.Providers[ProviderDeepSeek]
		p.APIKey = v
		cfg.Providers[ProviderDeepSeek] = p
	}
	if v := strings.TrimSpace(os.Getenv("CHATD_MODEL")); v != "" {
		cfg.ModelConfig.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATD_BASE_URL")); v != "" {
		p := cfg.Providers[ProviderOpenAI]
		p.BaseURL = v
		cfg.Providers[ProviderOpenAI] = p
	}
	if v := strings.TrimSpace(os.Getenv("ASSISTANT_ID")); v != "" {
		cfg.Thread.AssistantID = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATD_AUTO_TITLE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableAutoGenerateTitle = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHATD_LOCALE")); v != "" {
		cfg.Locale = v
	}
}

func normalize(cfg *App) {
	if cfg.ModelConfig.HistoryMessageCount <= 0 {
		cfg.ModelConfig.HistoryMessageCount = 4
	}
	if cfg.ModelConfig.MaxTokens <= 0 {
		cfg.ModelConfig.MaxTokens = 4000
	}
	if cfg.ModelConfig.CompressMessageLengthThreshold <= 0 {
		cfg.ModelConfig.CompressMessageLengthThreshold = 1000
	}
	if cfg.Thread.SyncSeconds <= 0 {
		cfg.Thread.SyncSeconds = 5
	}
	if cfg.Thread.PollSeconds <= 0 {
		cfg.Thread.PollSeconds = 1
	}
	if strings.TrimSpace(cfg.ModelConfig.Provider) == "" {
		cfg.ModelConfig.Provider = ProviderOpenAI
	}
	for name, p := range cfg.Providers {
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		cfg.Providers[name] = p
	}
	cfg.Thread.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Thread.BaseURL), "/")
}

// DBPath resolves the sqlite database path, expanding a leading "~".
func (a *App) DBPath() string {
	base := strings.TrimSpace(a.Storage.BaseDir)
	if strings.HasPrefix(base, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, strings.TrimPrefix(base, "~"))
		}
	}
	file := strings.TrimSpace(a.Storage.DBFile)
	if file == "" {
		file = "chatd.db"
	}
	return filepath.Join(base, file)
}
