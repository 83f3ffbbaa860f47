package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvConfigFile  = "RAGSHELL_CONFIG"
	EnvEmbeddedDir = "RAGSHELL_EMBEDDED_DIR"
	EnvDataDir     = "RAGSHELL_DATA_DIR"
	EnvModule      = "RAGSHELL_MODULE"
	EnvLogLevel    = "RAGSHELL_LOG_LEVEL"
	EnvLogFile     = "RAGSHELL_LOG_FILE"
	EnvDevReload   = "RAGSHELL_DEV_RELOAD"
	EnvHistoryKeep = "RAGSHELL_TASK_HISTORY_KEEP"
	EnvOllamaURL   = "RAGSHELL_OLLAMA_URL"

	DefaultModule     = "agent_runtime.executor"
	DefaultCapability = "Executor"
)

type Config struct {
	EmbeddedDir string
	DataDir     string
	Module      string
	Capability  string
	LogLevel    string
	LogFile     string
	DevReload   bool

	Tasks TasksConfig
	LLM   LLMConfig
	Exec  ExecConfig
}

type TasksConfig struct {
	Workers     int
	QueueSize   int
	HistoryKeep int
}

type LLMConfig struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	OllamaURL        string
	RequestTimeout   time.Duration
}

type ExecConfig struct {
	Allow   []string
	Timeout time.Duration
}

type fileConfig struct {
	EmbeddedDir string `toml:"embedded_dir"`
	DataDir     string `toml:"data_dir"`
	Module      string `toml:"module"`
	Capability  string `toml:"capability"`
	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`
	DevReload   bool   `toml:"dev_reload"`

	Tasks struct {
		Workers     int `toml:"workers"`
		QueueSize   int `toml:"queue_size"`
		HistoryKeep int `toml:"history_keep"`
	} `toml:"tasks"`

	LLM struct {
		OpenAIBaseURL    string `toml:"openai_base_url"`
		AnthropicBaseURL string `toml:"anthropic_base_url"`
		OllamaURL        string `toml:"ollama_url"`
		RequestTimeout   string `toml:"request_timeout"`
	} `toml:"llm"`

	Exec struct {
		Allow   []string `toml:"allow"`
		Timeout string   `toml:"timeout"`
	} `toml:"exec"`
}

func Default() Config {
	dataDir := ".ragshell"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".ragshell")
	}
	return Config{
		DataDir:    dataDir,
		Module:     DefaultModule,
		Capability: DefaultCapability,
		LogLevel:   "info",
		Tasks: TasksConfig{
			Workers:     2,
			QueueSize:   64,
			HistoryKeep: 200,
		},
		LLM: LLMConfig{
			OllamaURL:      "http://127.0.0.1:11434",
			RequestTimeout: 2 * time.Minute,
		},
		Exec: ExecConfig{
			Allow:   []string{"ollama"},
			Timeout: 10 * time.Minute,
		},
	}
}

// Load applies, in order: defaults, the TOML file at path (if non-empty or
// named by RAGSHELL_CONFIG), and RAGSHELL_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %s", path, undecoded[0].String())
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("embedded_dir", &cfg.EmbeddedDir, raw.EmbeddedDir)
	setString("data_dir", &cfg.DataDir, raw.DataDir)
	setString("module", &cfg.Module, raw.Module)
	setString("capability", &cfg.Capability, raw.Capability)
	setString("log_level", &cfg.LogLevel, raw.LogLevel)
	setString("log_file", &cfg.LogFile, raw.LogFile)
	if meta.IsDefined("dev_reload") {
		cfg.DevReload = raw.DevReload
	}

	if meta.IsDefined("tasks", "workers") {
		cfg.Tasks.Workers = raw.Tasks.Workers
	}
	if meta.IsDefined("tasks", "queue_size") {
		cfg.Tasks.QueueSize = raw.Tasks.QueueSize
	}
	if meta.IsDefined("tasks", "history_keep") {
		cfg.Tasks.HistoryKeep = raw.Tasks.HistoryKeep
	}

	if meta.IsDefined("llm", "openai_base_url") {
		cfg.LLM.OpenAIBaseURL = strings.TrimSpace(raw.LLM.OpenAIBaseURL)
	}
	if meta.IsDefined("llm", "anthropic_base_url") {
		cfg.LLM.AnthropicBaseURL = strings.TrimSpace(raw.LLM.AnthropicBaseURL)
	}
	if meta.IsDefined("llm", "ollama_url") {
		cfg.LLM.OllamaURL = strings.TrimSpace(raw.LLM.OllamaURL)
	}
	if meta.IsDefined("llm", "request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.LLM.RequestTimeout))
		if err != nil {
			return fmt.Errorf("parse llm.request_timeout: %w", err)
		}
		cfg.LLM.RequestTimeout = d
	}

	if meta.IsDefined("exec", "allow") {
		cfg.Exec.Allow = normalizeList(raw.Exec.Allow)
	}
	if meta.IsDefined("exec", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Exec.Timeout))
		if err != nil {
			return fmt.Errorf("parse exec.timeout: %w", err)
		}
		cfg.Exec.Timeout = d
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvEmbeddedDir)); v != "" {
		cfg.EmbeddedDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModule)); v != "" {
		cfg.Module = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaURL)); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if v, ok := parseBool(os.Getenv(EnvDevReload)); ok {
		cfg.DevReload = v
	}
	cfg.Tasks.HistoryKeep = historyKeepFromEnv(cfg.Tasks.HistoryKeep)
	return nil
}

func historyKeepFromEnv(fallback int) int {
	raw := strings.TrimSpace(os.Getenv(EnvHistoryKeep))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Module) == "" {
		return fmt.Errorf("config missing module")
	}
	if strings.TrimSpace(cfg.Capability) == "" {
		return fmt.Errorf("config missing capability")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config missing data_dir")
	}
	if cfg.Tasks.Workers < 0 || cfg.Tasks.QueueSize < 0 || cfg.Tasks.HistoryKeep < 0 {
		return fmt.Errorf("tasks settings must not be negative")
	}
	return nil
}

// EngineDBPath is where the engine's key/value store lives.
func (c Config) EngineDBPath() string {
	return filepath.Join(c.DataDir, "engine.sqlite")
}

func (c Config) TaskDBPath() string {
	return filepath.Join(c.DataDir, "tasks.sqlite")
}

// ResolveEmbeddedDir finds the engine assets. A configured directory must
// exist. Otherwise it tries "embedded" next to the executable, then ./embedded.
func (c Config) ResolveEmbeddedDir() (string, error) {
	if configured := strings.TrimSpace(c.EmbeddedDir); configured != "" {
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", fmt.Errorf("resolve embedded_dir %q: %w", configured, err)
		}
		if !isDir(abs) {
			return "", fmt.Errorf("embedded_dir %q is not a directory", abs)
		}
		return abs, nil
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "embedded"))
	}
	candidates = append(candidates, "embedded", filepath.Join("..", "..", "embedded"))

	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err == nil && isDir(abs) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("embedded directory not found, set %s", EnvEmbeddedDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
