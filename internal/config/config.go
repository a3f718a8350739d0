package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"text/template"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ouiliame/pb-img/internal/workflow"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PBIMG"

// Loader handles Viper-based configuration loading.
//
// Each Loader owns its own Viper instance so loaders never share state.
// Use [NewLoader] to create one.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with defaults and environment bindings applied.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider credentials keep their conventional names.
	_ = v.BindEnv("replicate.api_token", EnvPrefix+"_REPLICATE_API_TOKEN", "REPLICATE_API_TOKEN")
	_ = v.BindEnv("critique.api_key", EnvPrefix+"_CRITIQUE_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("critique.base_url", EnvPrefix+"_CRITIQUE_BASE_URL", "OPENAI_BASE_URL")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("prompt", cfg.Prompt)

	v.SetDefault("workflow.path", cfg.Workflow.Path)
	v.SetDefault("workflow.prompt_path", cfg.Workflow.PromptPath)

	v.SetDefault("replicate.model", cfg.Replicate.Model)
	v.SetDefault("replicate.api_token", cfg.Replicate.APIToken)
	v.SetDefault("replicate.base_url", cfg.Replicate.BaseURL)
	v.SetDefault("replicate.randomise_seeds", cfg.Replicate.RandomiseSeeds)
	v.SetDefault("replicate.return_temp_files", cfg.Replicate.ReturnTempFiles)
	v.SetDefault("replicate.output_quality", cfg.Replicate.OutputQuality)
	v.SetDefault("replicate.timeout", cfg.Replicate.Timeout)

	v.SetDefault("critique.model", cfg.Critique.Model)
	v.SetDefault("critique.api_key", cfg.Critique.APIKey)
	v.SetDefault("critique.base_url", cfg.Critique.BaseURL)
	v.SetDefault("critique.max_tokens", cfg.Critique.MaxTokens)
	v.SetDefault("critique.instruction", cfg.Critique.Instruction)
	v.SetDefault("critique.detect_mime", cfg.Critique.DetectMIME)
	v.SetDefault("critique.timeout", cfg.Critique.Timeout)

	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.pattern", cfg.Output.Pattern)

	v.SetDefault("pipeline.parallel", cfg.Pipeline.Parallel)

	v.SetDefault("log.level", cfg.Log.Level)
}

// Load resolves the configuration file (see the package documentation for the
// search order), merges environment overrides and returns the result.
// A missing config file is not an error; defaults are used instead.
func (l *Loader) Load() (*Config, error) {
	if path := resolveConfigPath(); path != "" {
		return l.LoadFromFile(path)
	}
	return l.unmarshal()
}

// LoadFromFile reads the given YAML file and merges environment overrides.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeHooks extends viper's default hooks so a dotted string such as
// "6.inputs.text" decodes into a [workflow.FieldPath].
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		fieldPathHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var fieldPathType = reflect.TypeOf(workflow.FieldPath{})

func fieldPathHook(from, to reflect.Type, data any) (any, error) {
	if to != fieldPathType || from.Kind() != reflect.String {
		return data, nil
	}
	return workflow.ParseFieldPath(strings.TrimSpace(data.(string))), nil
}

func resolveConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_PATH"); p != "" {
		return p
	}

	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "pb-img", "config.yaml"))
	}
	candidates = append(candidates, "pb-img.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Workflow.Path == "" {
		return fmt.Errorf("workflow.path is required")
	}
	if len(c.Workflow.PromptPath) == 0 {
		return fmt.Errorf("workflow.prompt_path is required")
	}
	if c.Replicate.Model == "" {
		return fmt.Errorf("replicate.model is required")
	}
	if c.Critique.Model == "" {
		return fmt.Errorf("critique.model is required")
	}
	if c.Critique.MaxTokens <= 0 {
		return fmt.Errorf("critique.max_tokens must be positive, got %d", c.Critique.MaxTokens)
	}
	if !strings.Contains(c.Output.Pattern, "%d") {
		return fmt.Errorf("output.pattern must contain %%d, got %q", c.Output.Pattern)
	}
	return nil
}

// ExpandTemplate executes a Go text/template with data.
func ExpandTemplate(tmpl string, data PromptData) (string, error) {
	t, err := template.New("instruction").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
