// Package config loads pipeline files.
//
// A pipeline file is YAML. Loading happens in four steps: the document is
// decoded into a generic tree, environment overrides are applied to it, the
// tree is checked against an embedded CUE schema, and finally it is decoded
// into a Pipeline and checked for the rules the schema cannot express.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Source kinds.
const (
	KindWebSocket = "websocket"
	KindHTTP      = "http"
	KindJSON      = "json"
)

// Pipeline is a validated pipeline file.
type Pipeline struct {
	Name        string   `yaml:"name"`
	LogLevel    string   `yaml:"log_level,omitempty"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty"`
	Record      string   `yaml:"record,omitempty"`
	Sources     []Source `yaml:"sources"`
	Filter      *Filter  `yaml:"filter,omitempty"`
	Batch       *Batch   `yaml:"batch,omitempty"`
}

// Source configures one producer. Which fields apply depends on Kind.
type Source struct {
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
	URL   string `yaml:"url"`

	// websocket
	InitMessages []string `yaml:"init_messages,omitempty"`
	BufferSize   int      `yaml:"buffer_size,omitempty"`
	Normalize    bool     `yaml:"normalize,omitempty"`

	// http, json
	Period  time.Duration     `yaml:"period,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
}

// Filter keeps only items containing a substring.
type Filter struct {
	Contains string `yaml:"contains"`
}

// Batch groups items into periodic batches.
type Batch struct {
	Period time.Duration `yaml:"period"`
}

// Overrides are the settings the environment may replace.
type Overrides struct {
	LogLevel    string `env:"STREAMZ_LOG_LEVEL"`
	MetricsAddr string `env:"STREAMZ_METRICS_ADDR"`
	Record      string `env:"STREAMZ_RECORD"`
}

// SlogLevel maps LogLevel to a slog level. Unset means info.
func (p *Pipeline) SlogLevel() slog.Level {
	switch p.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type loadOptions struct {
	environ map[string]string
}

// LoadOption configures Load and Parse.
type LoadOption func(*loadOptions)

// WithEnvironment replaces the process environment as the source of
// overrides.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load reads and validates the pipeline file at path.
func Load(path string, opts ...LoadOption) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("pipeline file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeRead, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return Parse(data, opts...)
}

// Parse validates a pipeline document.
func Parse(data []byte, opts ...LoadOption) (*Pipeline, error) {
	o := loadOptions{environ: env.ToMap(os.Environ())}
	for _, opt := range opts {
		opt(&o)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing yaml: %v", err)}
	}
	if raw == nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: "pipeline file is empty"}
	}

	if err := applyOverrides(raw, o.environ); err != nil {
		return nil, err
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	p, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

func applyOverrides(raw map[string]any, environ map[string]string) error {
	var ov Overrides
	if err := env.ParseWithOptions(&ov, env.Options{Environment: environ}); err != nil {
		return &LoadError{Code: ErrCodeEnv, Message: fmt.Sprintf("reading environment: %v", err)}
	}
	if ov.LogLevel != "" {
		raw["log_level"] = strings.ToLower(ov.LogLevel)
	}
	if ov.MetricsAddr != "" {
		raw["metrics_addr"] = ov.MetricsAddr
	}
	if ov.Record != "" {
		raw["record"] = ov.Record
	}
	return nil
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("compiling schema: %v", err)}
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("encoding document: %v", err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Pipeline")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

func decode(raw map[string]any) (*Pipeline, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("re-encoding document: %v", err)}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("decoding pipeline: %v", err)}
	}
	return &p, nil
}

// check enforces the rules the schema does not cover.
func (p *Pipeline) check() error {
	seen := make(map[string]bool, len(p.Sources))
	for i, src := range p.Sources {
		if seen[src.Label] {
			return &LoadError{Code: ErrCodeInvalid, Field: fmt.Sprintf("sources[%d].label", i), Message: fmt.Sprintf("duplicate source label %q", src.Label)}
		}
		seen[src.Label] = true

		if src.Kind != KindWebSocket && src.Period <= 0 {
			return &LoadError{Code: ErrCodeInvalid, Field: fmt.Sprintf("sources[%d].period", i), Message: "period must be positive"}
		}
	}
	if p.Batch != nil && p.Batch.Period <= 0 {
		return &LoadError{Code: ErrCodeInvalid, Field: "batch.period", Message: "period must be positive"}
	}
	return nil
}
