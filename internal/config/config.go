package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8000
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultTimeout        = 120 * time.Second
	DefaultPingInterval   = 15 * time.Second

	DefaultLMStudioBase   = "http://127.0.0.1:1234/v1/chat/completions"
	DefaultLMStudioModel  = "gpt-oss-120b"
	DefaultPoeBaseURL     = "https://api.poe.com/v1/chat/completions"
	DefaultOpenRouterBase = "https://openrouter.ai/api/v1/chat/completions"
)

// LMStudio describes the local OpenAI-compatible backend. It needs no credential.
type LMStudio struct {
	Base  string `yaml:"base" validate:"required,url"`
	Model string `yaml:"model" validate:"required"`
}

// Upstream describes a hosted backend reached with a bearer key.
type Upstream struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

type Proxy struct {
	HTTP    string `yaml:"http,omitempty" validate:"omitempty,url"`
	HTTPS   string `yaml:"https,omitempty" validate:"omitempty,url"`
	All     string `yaml:"all,omitempty" validate:"omitempty,url"`
	NoProxy string `yaml:"no_proxy,omitempty"`
}

// Config is built once at startup and treated as immutable afterwards.
type Config struct {
	Host         string        `yaml:"host" validate:"required"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	Model        string        `yaml:"model,omitempty" validate:"omitempty,contains=:"`
	LogLevel     string        `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug verbose info warn warning error"`
	LogFormat    string        `yaml:"log_format,omitempty" validate:"omitempty,oneof=text json"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=1s"`
	PingInterval time.Duration `yaml:"ping_interval" validate:"gte=0"`

	LMStudio   LMStudio `yaml:"lmstudio"`
	Poe        Upstream `yaml:"poe"`
	OpenRouter Upstream `yaml:"openrouter"`
	Proxy      Proxy    `yaml:"proxy,omitempty"`

	// ContextBudgets overrides context windows keyed by canonical model name.
	ContextBudgets map[string]int `yaml:"context_budgets,omitempty" validate:"omitempty,dive,gt=0"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		LogLevel:     "info",
		LogFormat:    "text",
		Timeout:      DefaultTimeout,
		PingInterval: DefaultPingInterval,
		LMStudio: LMStudio{
			Base:  DefaultLMStudioBase,
			Model: DefaultLMStudioModel,
		},
		Poe:        Upstream{BaseURL: DefaultPoeBaseURL},
		OpenRouter: Upstream{BaseURL: DefaultOpenRouterBase},
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Overrides carries values set explicitly on the command line. Nil fields are left alone.
type Overrides struct {
	Host             *string
	Port             *int
	Model            *string
	LogLevel         *string
	LMStudioBase     *string
	LMStudioModel    *string
	Timeout          *time.Duration
	PoeAPIKey        *string
	PoeBaseURL       *string
	OpenRouterAPIKey *string
	OpenRouterBase   *string
}

// WithOverrides returns a copy of c with every non-nil override applied.
func (c Config) WithOverrides(o Overrides) Config {
	set(&c.Host, o.Host)
	set(&c.Port, o.Port)
	set(&c.Model, o.Model)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LMStudio.Base, o.LMStudioBase)
	set(&c.LMStudio.Model, o.LMStudioModel)
	set(&c.Timeout, o.Timeout)
	set(&c.Poe.APIKey, o.PoeAPIKey)
	set(&c.Poe.BaseURL, o.PoeBaseURL)
	set(&c.OpenRouter.APIKey, o.OpenRouterAPIKey)
	set(&c.OpenRouter.BaseURL, o.OpenRouterBase)

	return c
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c and reports every failing field in one error.
func Validate(c *Config) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}

	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Manager loads and holds the active configuration.
type Manager struct {
	baseDir     string
	configValue atomic.Value
	lookupEnv   func(string) (string, bool)
	secrets     SecretStore
}

type Option func(*Manager)

// WithEnv replaces os.LookupEnv, mainly for tests.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(m *Manager) { m.lookupEnv = lookup }
}

// WithSecrets replaces the OS keyring store.
func WithSecrets(store SecretStore) Option {
	return func(m *Manager) { m.secrets = store }
}

func NewManager(baseDir string, opts ...Option) *Manager {
	m := &Manager{
		baseDir:   baseDir,
		lookupEnv: os.LookupEnv,
		secrets:   KeyringStore{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load builds the configuration from defaults, the config file (if any),
// the environment and finally the secret store for missing keys.
func (m *Manager) Load() (*Config, error) {
	cfg := Default()

	if path, ok := m.existingPath(); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// yaml.v3 accepts JSON documents too.
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", filepath.Base(path), err)
		}
		if doc.Kind != 0 {
			if err := secondsDurations(&doc); err != nil {
				return nil, fmt.Errorf("unmarshal config %s: %w", filepath.Base(path), err)
			}
			if err := doc.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config %s: %w", filepath.Base(path), err)
			}
		}
	}

	if err := applyEnv(&cfg, m.lookupEnv); err != nil {
		return nil, err
	}

	m.fillSecrets(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

// Apply layers command line overrides on the loaded configuration.
func (m *Manager) Apply(o Overrides) (*Config, error) {
	cfg := m.Get().WithOverrides(o)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return defaults if loading fails
		d := Default()
		return &d
	}
	return cfg
}

// Save writes cfg as YAML. Keys are never persisted to the file; use the secret store.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	out := *cfg
	out.Poe.APIKey = ""
	out.OpenRouter.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the file Load reads, or the YAML path Save would create.
func (m *Manager) GetPath() string {
	if path, ok := m.existingPath(); ok {
		return path
	}
	return filepath.Join(m.baseDir, DefaultYAMLFilename)
}

func (m *Manager) Exists() bool {
	_, ok := m.existingPath()
	return ok
}

func (m *Manager) Secrets() SecretStore {
	return m.secrets
}

// existingPath prefers the YAML file over the JSON one.
func (m *Manager) existingPath() (string, bool) {
	for _, name := range []string{DefaultYAMLFilename, DefaultConfigFilename} {
		path := filepath.Join(m.baseDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func (m *Manager) fillSecrets(cfg *Config) {
	if m.secrets == nil {
		return
	}
	// An unavailable keyring is treated like a missing entry.
	if cfg.Poe.APIKey == "" {
		cfg.Poe.APIKey, _ = m.secrets.Get(SecretPoe)
	}
	if cfg.OpenRouter.APIKey == "" {
		cfg.OpenRouter.APIKey, _ = m.secrets.Get(SecretOpenRouter)
	}
}

// secondsDurations rewrites bare numbers under timeout and ping_interval as
// seconds, the unit LMSTUDIO_TIMEOUT uses. yaml.v3 refuses numbers for
// time.Duration; strings like "90s" are left alone.
func secondsDurations(doc *yaml.Node) error {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value != "timeout" && key.Value != "ping_interval" {
			continue
		}
		if value.Kind != yaml.ScalarNode {
			continue
		}
		if tag := value.ShortTag(); tag != "!!int" && tag != "!!float" {
			continue
		}

		secs, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", key.Value, value.Value, err)
		}
		value.Tag = "!!str"
		value.Style = 0
		value.Value = time.Duration(secs * float64(time.Second)).String()
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&cfg.Host, "ADAPTER_HOST")
	str(&cfg.Model, "CC_ADAPTER_MODEL")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LMStudio.Base, "LMSTUDIO_BASE")
	str(&cfg.LMStudio.Model, "LMSTUDIO_MODEL")
	str(&cfg.Poe.BaseURL, "POE_BASE_URL")
	str(&cfg.Poe.APIKey, "POE_API_KEY")
	str(&cfg.OpenRouter.BaseURL, "OPENROUTER_BASE")
	str(&cfg.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	str(&cfg.Proxy.HTTP, "http_proxy", "HTTP_PROXY")
	str(&cfg.Proxy.HTTPS, "https_proxy", "HTTPS_PROXY")
	str(&cfg.Proxy.All, "all_proxy", "ALL_PROXY")
	str(&cfg.Proxy.NoProxy, "no_proxy", "NO_PROXY")

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if v, ok := lookup("ADAPTER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ADAPTER_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}

	if v, ok := lookup("LMSTUDIO_TIMEOUT"); ok && v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse LMSTUDIO_TIMEOUT %q: %w", v, err)
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}

	return nil
}
