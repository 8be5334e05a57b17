// Package config loads neuroweave settings.
//
// Settings are layered, lowest priority first:
//
//  1. built-in defaults ([Default])
//  2. a YAML file
//  3. NEUROWEAVE_* environment variables
//
// The merged result is validated before it is returned.
//
// Example file:
//
//	llm:
//	  provider: openai
//	  model: gpt-4o-mini
//	extraction:
//	  confidence_threshold: 0.3
//	server:
//	  port: 8787
//	log:
//	  level: debug
//	  format: json
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NEUROWEAVE_"

// ErrInvalid is returned when the merged configuration fails validation.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete neuroweave configuration.
type Config struct {
	LLM        LLM        `yaml:"llm" json:"llm"`
	Extraction Extraction `yaml:"extraction" json:"extraction"`
	Graph      Graph      `yaml:"graph" json:"graph"`
	Events     Events     `yaml:"events" json:"events"`
	Ingest     Ingest     `yaml:"ingest" json:"ingest"`
	Server     Server     `yaml:"server" json:"server"`
	Log        Log        `yaml:"log" json:"log"`

	path string
}

// LLM selects and configures the text-completion provider.
type LLM struct {
	Provider  string        `yaml:"provider" json:"provider" validate:"oneof=mock openai gemini"`
	Model     string        `yaml:"model" json:"model"`
	APIKey    string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	MaxTokens int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`

	// Breaker enables a circuit breaker around the provider.
	Breaker bool `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// Extraction configures the extraction pipeline.
type Extraction struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
}

// Graph configures the graph store.
type Graph struct {
	// Backend is always "memory"; durable backends do not exist.
	Backend string `yaml:"backend" json:"backend" validate:"oneof=memory"`
}

// Events configures the event bus.
type Events struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout" json:"handler_timeout" validate:"gt=0"`

	// MaxInFlight bounds concurrent invocations per subscription. Zero is
	// unbounded.
	MaxInFlight int `yaml:"max_in_flight,omitempty" json:"max_in_flight,omitempty" validate:"gte=0"`
}

// Ingest configures the ingestion bridge.
type Ingest struct {
	Policy string `yaml:"policy" json:"policy" validate:"oneof=lenient strict"`
}

// Server configures the visualization server.
type Server struct {
	Host string `yaml:"host" json:"host" validate:"required"`
	Port int    `yaml:"port" json:"port" validate:"gte=1024,lte=65535"`
}

// Addr returns host:port.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLM{
			Provider: "mock",
			Model:    "gpt-4o-mini",
		},
		Extraction: Extraction{
			Enabled:             true,
			ConfidenceThreshold: 0.3,
		},
		Graph:  Graph{Backend: "memory"},
		Events: Events{HandlerTimeout: 5 * time.Second},
		Ingest: Ingest{Policy: "lenient"},
		Server: Server{Host: "127.0.0.1", Port: 8787},
		Log:    Log{Level: "info", Format: "console"},
	}
}

// Load reads path (if non-empty) over the defaults, applies the
// environment, and validates the result. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.path = path
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays YAML data on c. Keys absent from data keep their current
// values.
func (c *Config) Merge(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Ingest.Policy = strings.ToLower(c.Ingest.Policy)
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays NEUROWEAVE_* variables on c. Unset or empty variables
// are ignored; malformed numbers are an error.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	strs := map[string]*string{
		"LLM_PROVIDER":  &c.LLM.Provider,
		"LLM_MODEL":     &c.LLM.Model,
		"LLM_API_KEY":   &c.LLM.APIKey,
		"LLM_BASE_URL":  &c.LLM.BaseURL,
		"GRAPH_BACKEND": &c.Graph.Backend,
		"INGEST_POLICY": &c.Ingest.Policy,
		"SERVER_HOST":   &c.Server.Host,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LLM_MAX_TOKENS":       &c.LLM.MaxTokens,
		"SERVER_PORT":          &c.Server.Port,
		"EVENTS_MAX_IN_FLIGHT": &c.Events.MaxInFlight,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durs := map[string]*time.Duration{
		"LLM_TIMEOUT":            &c.LLM.Timeout,
		"EVENTS_HANDLER_TIMEOUT": &c.Events.HandlerTimeout,
	}
	for name, dst := range durs {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"LLM_BREAKER":        &c.LLM.Breaker,
		"EXTRACTION_ENABLED": &c.Extraction.Enabled,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	if v, ok := get("EXTRACTION_CONFIDENCE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sEXTRACTION_CONFIDENCE_THRESHOLD: %w", EnvPrefix, err)
		}
		c.Extraction.ConfidenceThreshold = f
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks c. The error wraps ErrInvalid and names every failing
// field by its YAML path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	// Namespace is "Config.llm.provider"; drop the root.
	field := e.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %v)", field, e.Param(), e.Value())
	case "gte", "lte", "gt":
		return fmt.Sprintf("%s must be %s %s (got %v)", field, e.Tag(), e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// Redacted returns a copy of c with the API key masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.APIKey = MaskAPIKey(c.LLM.APIKey)
	return &out
}

// MaskAPIKey masks the API key for display.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
