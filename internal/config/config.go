package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for groupguard.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Telegram TelegramConfig `json:"telegram"`
	Firewall FirewallConfig `json:"firewall"`
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type TelegramConfig struct {
	Enabled        bool           `json:"enabled"`
	Token          string         `json:"token"`
	AllowChats     FlexStringList `json:"allowChats"` // empty = every chat the bot is in
	PollTimeout    int            `json:"pollTimeout"`
	EditedMessages bool           `json:"editedMessages"`
	Webhook        WebhookConfig  `json:"webhook"`
}

// WebhookConfig switches telegram ingest from long polling to webhooks.
type WebhookConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	Path      string `json:"path"`
	PublicURL string `json:"publicUrl,omitempty"` // registered with Telegram when set
	Secret    string `json:"secret,omitempty"`
}

type FirewallConfig struct {
	RuleCacheTTLMs        int    `json:"ruleCacheTTLMs"`
	Workers               int    `json:"workers"`
	RulesDir              string `json:"rulesDir,omitempty"` // YAML rule files imported at startup
	ExecutorRatePerSecond int    `json:"executorRatePerSecond"`
	RecordQueueSize       int    `json:"recordQueueSize"`
}

// StorageConfig locates the rule and audit database. An empty DBPath runs
// the firewall without rules, so it never issues commands.
type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

// RedisConfig enables the shared violation history store. When disabled the
// history lives in process memory.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Password string `json:"password,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["-100123", 456] both become strings).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.groupguard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".groupguard"
	}
	return filepath.Join(home, ".groupguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Firewall.RulesDir = ExpandPath(cfg.Firewall.RulesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides lets deployment environments override a few settings
// without editing the config file.
func ApplyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("FIREWALL_RULE_CACHE_TTL_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FIREWALL_RULE_CACHE_TTL_MS: %w", err)
		}
		cfg.Firewall.RuleCacheTTLMs = ms
	}
	if v := os.Getenv("GROUPGUARD_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("GROUPGUARD_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if cfg.Telegram.PollTimeout < 1 || cfg.Telegram.PollTimeout > 120 {
		errs = append(errs, "telegram.pollTimeout must be between 1 and 120")
	}
	if wh := cfg.Telegram.Webhook; wh.Enabled {
		if wh.Addr == "" {
			errs = append(errs, "telegram.webhook.addr is required when webhooks are enabled")
		}
		if !strings.HasPrefix(wh.Path, "/") {
			errs = append(errs, "telegram.webhook.path must start with /")
		}
		if wh.PublicURL != "" && !strings.HasPrefix(wh.PublicURL, "https://") {
			errs = append(errs, "telegram.webhook.publicUrl must be an https URL")
		}
	}
	for _, id := range cfg.Telegram.AllowChats {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			errs = append(errs, fmt.Sprintf("telegram.allowChats: %q is not a chat id", id))
		}
	}

	if cfg.Firewall.RuleCacheTTLMs < 1 {
		errs = append(errs, "firewall.ruleCacheTTLMs must be >= 1")
	}
	if cfg.Firewall.Workers < 1 || cfg.Firewall.Workers > 256 {
		errs = append(errs, "firewall.workers must be between 1 and 256")
	}
	if cfg.Firewall.ExecutorRatePerSecond < 1 {
		errs = append(errs, "firewall.executorRatePerSecond must be >= 1")
	}
	if cfg.Firewall.RecordQueueSize < 1 {
		errs = append(errs, "firewall.recordQueueSize must be >= 1")
	}

	if cfg.Redis.Enabled && cfg.Redis.URL == "" {
		errs = append(errs, "redis.url is required when redis is enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ChatIDs returns the parsed telegram allow-list. Validate guarantees the
// entries are numeric.
func (c TelegramConfig) ChatIDs() []int64 {
	ids := make([]int64, 0, len(c.AllowChats))
	for _, s := range c.AllowChats {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
