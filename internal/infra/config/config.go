package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"deltastream/internal/domain"
)

const (
	envPrefix     = "DELTASTREAM_"
	envPassphrase = envPrefix + "CONFIG_KEY"
	encPrefix     = "enc:"
)

// Config is the root configuration: a default provider name plus the named
// provider entries, and the ambient settings around them.
type Config struct {
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
	Stream    StreamConfig     `yaml:"stream"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
}

// ProviderConfig holds settings for a single named provider.
type ProviderConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"` // openai | gemini | claude
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	ContextWindow int    `yaml:"context_window,omitempty"`
	APIVersion    string `yaml:"api_version,omitempty"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
}

// Descriptor builds the request descriptor for one prompt against p.
// An empty system falls back to the provider's configured system prompt.
func (p ProviderConfig) Descriptor(prompt, system string) domain.RequestDescriptor {
	if system == "" {
		system = p.SystemPrompt
	}
	return domain.RequestDescriptor{
		Provider:     p.Type,
		BaseURL:      p.BaseURL,
		APIKey:       p.APIKey,
		Model:        p.Model,
		Prompt:       prompt,
		SystemPrompt: system,
		APIVersion:   p.APIVersion,
	}
}

// StreamConfig holds transport settings shared by every stream.
type StreamConfig struct {
	ConnTimeout           time.Duration        `yaml:"conn_timeout"`
	ConnectionTestTimeout time.Duration        `yaml:"connection_test_timeout"`
	ReadBufferSize        int                  `yaml:"read_buffer_size"`
	Pool                  PoolConfig           `yaml:"pool"`
	CircuitBreaker        CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-provider-kind circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds the per-IP gateway rate limit.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // noop | stdout
}

// DefaultPath returns $HOME/.deltastream/config.yaml, or ./config.yaml
// when the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".deltastream", "config.yaml")
}

// Defaults returns a Config with one entry per supported vendor.
func Defaults() *Config {
	return &Config{
		Default: "openai",
		Providers: []ProviderConfig{
			{
				Name:          "openai",
				Type:          string(domain.ProviderOpenAI),
				BaseURL:       "https://api.openai.com/v1",
				Model:         "gpt-4o",
				ContextWindow: 128000,
			},
			{
				Name:          "claude",
				Type:          string(domain.ProviderClaude),
				BaseURL:       "https://api.anthropic.com",
				Model:         "claude-sonnet-4-20250514",
				ContextWindow: 200000,
				APIVersion:    "2023-06-01",
			},
			{
				Name:          "gemini",
				Type:          string(domain.ProviderGemini),
				BaseURL:       "https://generativelanguage.googleapis.com",
				Model:         "gemini-1.5-flash",
				ContextWindow: 1000000,
			},
		},
		Stream: StreamConfig{
			ConnTimeout:           30 * time.Second,
			ConnectionTestTimeout: 15 * time.Second,
			ReadBufferSize:        4096,
			Pool: PoolConfig{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8787",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	default:
		if err := validatePermissions(path); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(envPassphrase); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, creating the directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Edit applies fn to the config stored at path and writes it back. The file
// is read as written: env overrides and decrypted secrets never leak into it.
func Edit(path string, fn func(*Config) error) error {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return domain.NewDomainError("config.Edit", domain.ErrConfigLoad, err.Error())
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return domain.NewDomainError("config.Edit", domain.ErrConfigLoad, fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	if err := fn(cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	return Save(cfg, path)
}

// Provider returns the provider entry named name.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return ProviderConfig{}, domain.NewDomainError("config.Provider", domain.ErrProviderNotFound, name)
}

// Active returns the default provider entry.
func (c *Config) Active() (ProviderConfig, error) {
	return c.Provider(c.Default)
}

// SetDefault makes name the default provider. The name must exist.
func (c *Config) SetDefault(name string) error {
	if _, err := c.Provider(name); err != nil {
		return err
	}
	c.Default = name
	return nil
}

// Redacted returns a copy of c safe to hand to clients: API keys and gateway
// tokens are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = mask(p.APIKey)
		out.Providers[i] = p
	}
	out.Gateway.Auth.Tokens = nil
	return &out
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}

// ApplyEnvOverrides maps DELTASTREAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "DEFAULT"); v != "" {
		cfg.Default = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(envPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv(envPrefix + "GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv(envPrefix + "GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv(envPrefix + "CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.Stream.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv(envPrefix + "CONNECTION_TEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.ConnectionTestTimeout = d
		}
	}

	// Per-provider keys: DELTASTREAM_<NAME>_API_KEY, e.g. DELTASTREAM_OPENAI_API_KEY.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if v := os.Getenv(envPrefix + envName(p.Name) + "_API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(envPrefix + envName(p.Name) + "_BASE_URL"); v != "" {
			p.BaseURL = v
		}
		if v := os.Getenv(envPrefix + envName(p.Name) + "_MODEL"); v != "" {
			p.Model = v
		}
	}
}

// envName upper-cases name and replaces anything outside [A-Z0-9] with '_'.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets replaces "enc:..." provider API keys and gateway tokens
// with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !strings.HasPrefix(p.APIKey, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(p.APIKey, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", p.Name, err)
		}
		p.APIKey = plain
	}

	for i := range cfg.Gateway.Auth.Tokens {
		tok := &cfg.Gateway.Auth.Tokens[i]
		if !strings.HasPrefix(tok.Token, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(tok.Token, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", tok.Name, err)
		}
		tok.Token = plain
	}
	return nil
}

// EncryptSecret returns plaintext encrypted and prefixed with "enc:",
// ready to paste into the config file.
func EncryptSecret(plaintext, passphrase string) (string, error) {
	v, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		return "", err
	}
	return encPrefix + v, nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// Format: hex(salt) ":" hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	n := gcm.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
