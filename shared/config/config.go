package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/furisto/parley/backend/model"
	"github.com/furisto/parley/backend/ratelimit"
	"github.com/furisto/parley/shared"
	"github.com/furisto/parley/shared/keyring"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress           = "127.0.0.1:5000"
	DefaultTimeout           = 20 * time.Second
	DefaultReasoningTimeout  = 120 * time.Second
	DefaultTemperature       = 0.2
	DefaultMaxTokens         = 2048
	DefaultMaxToolRoundTrips = 8
	DefaultSearchCacheSize   = 1000
	DefaultSearchCacheTTL    = 10 * time.Minute
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Models      []ModelConfig     `yaml:"models"`
	Search      SearchConfig      `yaml:"search"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Agent       AgentConfig       `yaml:"agent"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Sentry      SentryConfig      `yaml:"sentry"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AttachmentsConfig struct {
	Dir string `yaml:"dir"`
}

type ProviderConfig struct {
	Kind    model.ProviderKind `yaml:"kind"`
	APIKey  string             `yaml:"api_key"`
	BaseURL string             `yaml:"base_url"`
}

type ProvidersConfig struct {
	Primary  ProviderConfig `yaml:"primary"`
	Fallback ProviderConfig `yaml:"fallback"`
}

// ModelConfig is the file representation of a model.Spec. Omitted fields take
// the defaults of the model type.
type ModelConfig struct {
	Type        model.Type    `yaml:"type"`
	Primary     string        `yaml:"primary"`
	Fallback    string        `yaml:"fallback"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
}

type SearchConfig struct {
	APIKey    string        `yaml:"api_key"`
	URL       string        `yaml:"url"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type RateLimitConfig struct {
	Timeframes []ratelimit.Timeframe `yaml:"timeframes"`
	RPS        float64               `yaml:"rps"`
	Burst      int                   `yaml:"burst"`
}

type AgentConfig struct {
	MaxToolRoundTrips int `yaml:"max_tool_round_trips"`
}

type AnalyticsConfig struct {
	PostHogKey      string `yaml:"posthog_key"`
	PostHogEndpoint string `yaml:"posthog_endpoint"`
}

type SentryConfig struct {
	DSN string `yaml:"dsn"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: DefaultAddress},
		Providers: ProvidersConfig{
			Primary:  ProviderConfig{Kind: model.ProviderKindOpenAI},
			Fallback: ProviderConfig{Kind: model.ProviderKindAnthropic},
		},
		Models: []ModelConfig{
			{Type: model.TypeDefault, Primary: "gpt-4o-mini", Fallback: "claude-3-5-haiku-latest"},
			{Type: model.TypeReasoning, Primary: "o3-mini", Fallback: "claude-3-7-sonnet-latest"},
			{Type: model.TypeVision, Primary: "gpt-4o", Fallback: "claude-3-5-sonnet-latest"},
		},
		Search: SearchConfig{
			CacheSize: DefaultSearchCacheSize,
			CacheTTL:  DefaultSearchCacheTTL,
		},
		Auth: AuthConfig{Issuer: "parley"},
		RateLimit: RateLimitConfig{
			Timeframes: ratelimit.DefaultTimeframes(),
			RPS:        1,
			Burst:      5,
		},
		Agent: AgentConfig{MaxToolRoundTrips: DefaultMaxToolRoundTrips},
	}
}

// Loader assembles the configuration from a YAML file, an optional .env file,
// the process environment and the OS keyring, in increasing precedence except
// for the keyring, which only fills secrets that are still empty.
type Loader struct {
	fs      afero.Fs
	getenv  func(string) string
	secrets keyring.Provider
}

func NewLoader(fs afero.Fs, secrets keyring.Provider) *Loader {
	return &Loader{
		fs:      fs,
		getenv:  os.Getenv,
		secrets: secrets,
	}
}

func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

func (l *Loader) Load(path, dotenvPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := afero.ReadFile(l.fs, path)
		if err != nil {
			return nil, shared.Wrap(shared.ErrorSourceUser, err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, shared.Wrap(shared.ErrorSourceUser, err, "failed to parse config file %s", path)
		}
	}

	getenv := l.getenv
	if dotenvPath != "" {
		dotenv, err := l.readDotEnv(dotenvPath)
		if err != nil {
			return nil, err
		}
		getenv = func(key string) string {
			if v := l.getenv(key); v != "" {
				return v
			}
			return dotenv[key]
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.applySecrets(l.secrets); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) readDotEnv(path string) (map[string]string, error) {
	exists, err := afero.Exists(l.fs, path)
	if err != nil || !exists {
		return map[string]string{}, err
	}

	content, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	values, err := godotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceUser, err, "failed to parse %s", path)
	}
	return values, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(target *string, keys ...string) {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*target = v
				return
			}
		}
	}

	set(&c.Server.Address, "PARLEY_ADDRESS")
	set(&c.Database.Path, "PARLEY_DATABASE")
	set(&c.Attachments.Dir, "PARLEY_ATTACHMENTS_DIR")
	set(&c.Providers.Primary.APIKey, "LLM_API_KEY", apiKeyEnv(c.Providers.Primary.Kind))
	set(&c.Providers.Primary.BaseURL, "LLM_BASE_URL")
	set(&c.Providers.Fallback.APIKey, "FALLBACK_LLM_API_KEY", apiKeyEnv(c.Providers.Fallback.Kind))
	set(&c.Providers.Fallback.BaseURL, "FALLBACK_LLM_BASE_URL")
	set(&c.Search.APIKey, "SERPAPI_API_KEY")
	set(&c.Auth.JWTSecret, "PARLEY_JWT_SECRET")
	set(&c.Analytics.PostHogKey, "POSTHOG_API_KEY")
	set(&c.Sentry.DSN, "SENTRY_DSN")

	if v := getenv("PARLEY_MAX_TOOL_ROUND_TRIPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return shared.Wrap(shared.ErrorSourceUser, err, "invalid PARLEY_MAX_TOOL_ROUND_TRIPS %q", v)
		}
		c.Agent.MaxToolRoundTrips = n
	}
	return nil
}

func apiKeyEnv(kind model.ProviderKind) string {
	switch kind {
	case model.ProviderKindAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func (c *Config) applySecrets(secrets keyring.Provider) error {
	if secrets == nil {
		return nil
	}

	lookups := []struct {
		target *string
		key    string
	}{
		{&c.Providers.Primary.APIKey, keyFor(c.Providers.Primary.Kind)},
		{&c.Providers.Fallback.APIKey, keyFor(c.Providers.Fallback.Kind)},
		{&c.Search.APIKey, keyring.KeySerpAPI},
		{&c.Auth.JWTSecret, keyring.KeyJWTSecret},
	}
	for _, lookup := range lookups {
		if *lookup.target != "" {
			continue
		}
		secret, err := keyring.Lookup(secrets, lookup.key)
		if err != nil {
			return fmt.Errorf("failed to read %s from keyring: %w", lookup.key, err)
		}
		*lookup.target = secret
	}
	return nil
}

func keyFor(kind model.ProviderKind) string {
	if kind == model.ProviderKindAnthropic {
		return keyring.KeyAnthropic
	}
	return keyring.KeyOpenAI
}

func (c *Config) applyDefaults() {
	for i := range c.Models {
		m := &c.Models[i]
		if m.Timeout == 0 {
			m.Timeout = DefaultTimeout
			if m.Type == model.TypeReasoning {
				m.Timeout = DefaultReasoningTimeout
			}
		}
		if m.Temperature == nil {
			temperature := DefaultTemperature
			m.Temperature = &temperature
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = DefaultMaxTokens
		}
	}
	if c.Agent.MaxToolRoundTrips == 0 {
		c.Agent.MaxToolRoundTrips = DefaultMaxToolRoundTrips
	}
	if c.Search.CacheTTL == 0 {
		c.Search.CacheTTL = DefaultSearchCacheTTL
	}
}

// Specs converts the configured models into validated model specs.
func (c *Config) Specs() []model.Spec {
	specs := make([]model.Spec, 0, len(c.Models))
	for _, m := range c.Models {
		spec := model.Spec{
			Type:      m.Type,
			Primary:   m.Primary,
			Fallback:  m.Fallback,
			Timeout:   m.Timeout,
			MaxTokens: m.MaxTokens,
		}
		if m.Temperature != nil {
			spec.Temperature = *m.Temperature
		}
		specs = append(specs, spec)
	}
	return specs
}

func (c *Config) Validate() error {
	if _, err := model.NewCatalog(c.Specs()...); err != nil {
		return shared.Wrap(shared.ErrorSourceUser, err, "invalid model configuration")
	}

	for name, provider := range map[string]ProviderConfig{"primary": c.Providers.Primary, "fallback": c.Providers.Fallback} {
		switch provider.Kind {
		case model.ProviderKindOpenAI, model.ProviderKindAnthropic:
		default:
			return shared.Errorf(shared.ErrorSourceUser, "%s provider: unknown kind %q", name, provider.Kind)
		}
	}

	if c.Agent.MaxToolRoundTrips < 0 {
		return shared.Errorf(shared.ErrorSourceUser, "max tool round trips must not be negative")
	}
	for _, timeframe := range c.RateLimit.Timeframes {
		if timeframe.Window <= 0 || timeframe.Max <= 0 || timeframe.Unit == "" {
			return shared.Errorf(shared.ErrorSourceUser, "invalid rate limit timeframe %+v", timeframe)
		}
	}
	return nil
}

// RequireSecrets reports the secrets the server cannot start without.
func (c *Config) RequireSecrets() error {
	switch {
	case c.Providers.Primary.APIKey == "":
		return shared.Errorf(shared.ErrorSourceUser, "primary provider API key is not set (LLM_API_KEY)")
	case c.Providers.Fallback.APIKey == "":
		return shared.Errorf(shared.ErrorSourceUser, "fallback provider API key is not set (FALLBACK_LLM_API_KEY)")
	case c.Search.APIKey == "":
		return shared.Errorf(shared.ErrorSourceUser, "search API key is not set (SERPAPI_API_KEY)")
	case c.Auth.JWTSecret == "":
		return shared.Errorf(shared.ErrorSourceUser, "JWT secret is not set (PARLEY_JWT_SECRET)")
	}
	return nil
}
