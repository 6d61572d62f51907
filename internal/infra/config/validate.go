package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"deltastream/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap classifies every validation failure as a config load error.
func (v *ValidationError) Unwrap() error { return domain.ErrConfigLoad }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Empty API keys are allowed; the vendor rejects them at request time.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateProviders(cfg, ve)
	validateStream(cfg, ve)
	validateGateway(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateProviders(cfg *Config, ve *ValidationError) {
	if len(cfg.Providers) == 0 {
		ve.Add("providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.Providers {
		if p.Name == "" {
			ve.Add("providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if _, err := domain.ParseProviderKind(p.Type); err != nil {
			ve.Add("providers[%d] (%s): type %q is invalid (want: openai, gemini, claude)", i, p.Name, p.Type)
		}
		if p.Model == "" {
			ve.Add("providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.ContextWindow < 0 {
			ve.Add("providers[%d] (%s): context_window must be >= 0", i, p.Name)
		}
		if p.Name == cfg.Default {
			foundDefault = true
		}
	}

	if cfg.Default == "" {
		ve.Add("default must not be empty")
	} else if !foundDefault {
		ve.Add("default %q does not match any configured provider", cfg.Default)
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	s := cfg.Stream
	if s.ConnTimeout < 0 {
		ve.Add("stream.conn_timeout must be >= 0")
	}
	if s.ConnectionTestTimeout < 0 {
		ve.Add("stream.connection_test_timeout must be >= 0")
	}
	if s.ReadBufferSize < 0 {
		ve.Add("stream.read_buffer_size must be >= 0")
	}
	if s.Pool.MaxIdleConns < 0 || s.Pool.MaxIdleConnsPerHost < 0 || s.Pool.MaxConnsPerHost < 0 {
		ve.Add("stream.pool limits must be >= 0")
	}
	if s.CircuitBreaker.Enabled && s.CircuitBreaker.MaxFailures == 0 {
		ve.Add("stream.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr != "" {
		if _, _, err := net.SplitHostPort(g.Addr); err != nil {
			ve.Add("gateway.addr %q is not a valid host:port", g.Addr)
		}
	}
	for i, tok := range g.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d] (%s): token must not be empty", i, tok.Name)
		}
	}
	if g.RateLimit.RequestsPerMin < 0 || g.RateLimit.Burst < 0 {
		ve.Add("gateway.rate_limit values must be >= 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true, "": true}
	validLogFormats = map[string]bool{"text": true, "json": true, "": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true, "": true}
)

func validateObservability(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
