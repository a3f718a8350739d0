// Package config provides configuration loading and management for pb-img.
//
// Configuration is loaded using Viper, supporting YAML config files and environment
// variable overrides. The package provides defaults that reproduce the stock
// pipeline (pb.json workflow, any-comfyui-workflow on Replicate, gpt-4o critique),
// so the tool runs without any configuration file.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [ReplicateConfig] contains image generation settings
//   - [CritiqueConfig] contains vision model settings
//
// Configuration priority (highest to lowest):
//  1. Environment variables (PBIMG_ prefix; REPLICATE_API_TOKEN and OPENAI_API_KEY for credentials)
//  2. Config file specified by PBIMG_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/pb-img/config.yaml
//     - macOS: ~/Library/Application Support/pb-img/config.yaml
//     - Windows: %APPDATA%\pb-img\config.yaml
//  4. ./pb-img.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"time"

	"github.com/ouiliame/pb-img/internal/workflow"
)

// DefaultPrompt is the prompt injected into the workflow when none is supplied.
const DefaultPrompt = `
A realistic photograph of a young man mid-air, leaping onto a neatly made bed with his body oriented naturally—head aimed
toward the pillows and feet toward the foot of the bed. His arms are extended forward as if preparing to land, and his body
is slightly angled downward to emphasize forward motion. The bed features soft, slightly rumpled linens, with pillows at the
headboard clearly visible. The room is bright and minimalist, with sunlight streaming through a large window and simple decor
like bedside tables, books, and plants to create a cozy, relatable atmosphere. The man’s expression should convey playful joy,
enhancing the dynamic and realistic scene.
`

// DefaultReplicateModel is the ComfyUI runner model, pinned to a version.
const DefaultReplicateModel = "fofr/any-comfyui-workflow-a100:d7cbe5383efd0b00d1a147b96cc0eabdc479f67359bf594d98e3bbc3df52233f"

// DefaultInstruction is the critique instruction template.
const DefaultInstruction = "Does this image match this prompt? Suggest improvements: {{.Prompt}}"

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and passed by
// reference into every client at startup. Use [DefaultConfig] to get defaults.
type Config struct {
	// Prompt is the text injected into the workflow and used for critique.
	// Default: [DefaultPrompt]
	Prompt string `mapstructure:"prompt"`

	// Workflow contains workflow document settings.
	Workflow WorkflowConfig `mapstructure:"workflow"`

	// Replicate contains image generation settings.
	Replicate ReplicateConfig `mapstructure:"replicate"`

	// Critique contains vision model settings.
	Critique CritiqueConfig `mapstructure:"critique"`

	// Output contains image output settings.
	Output OutputConfig `mapstructure:"output"`

	// Pipeline contains orchestration settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Log contains logging settings.
	Log LogConfig `mapstructure:"log"`
}

// WorkflowConfig locates the workflow document and the prompt field inside it.
type WorkflowConfig struct {
	// Path is the workflow file, read and overwritten in place.
	// Files ending in .yaml or .yml are read as YAML, everything else as JSON.
	// Default: "pb.json"
	Path string `mapstructure:"path"`

	// PromptPath is the key chain leading to the prompt string. It may be
	// given as a list or as a dotted string such as "6.inputs.text".
	// Default: ["6", "inputs", "text"] (the CLIPTextEncode node)
	PromptPath workflow.FieldPath `mapstructure:"prompt_path"`
}

// ReplicateConfig contains image generation settings.
type ReplicateConfig struct {
	// Model is the Replicate model identifier, "owner/name:version".
	Model string `mapstructure:"model"`

	// APIToken authenticates with Replicate.
	// Bound to REPLICATE_API_TOKEN.
	APIToken string `mapstructure:"api_token"`

	// BaseURL overrides the Replicate API endpoint. Empty uses the SDK default.
	BaseURL string `mapstructure:"base_url"`

	// RandomiseSeeds asks the runner to randomise every seed in the graph.
	// Default: true
	RandomiseSeeds bool `mapstructure:"randomise_seeds"`

	// ReturnTempFiles asks the runner to also return intermediate files.
	// Default: false
	ReturnTempFiles bool `mapstructure:"return_temp_files"`

	// OutputQuality is the encoder quality for generated images.
	// Default: 95
	OutputQuality int `mapstructure:"output_quality"`

	// Timeout bounds the whole prediction including polling.
	// Default: 10m
	Timeout time.Duration `mapstructure:"timeout"`
}

// CritiqueConfig contains vision model settings.
type CritiqueConfig struct {
	// Model is the chat completion model.
	// Default: "gpt-4o"
	Model string `mapstructure:"model"`

	// APIKey authenticates with the chat completion API.
	// Bound to OPENAI_API_KEY.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the API endpoint (any OpenAI-compatible server).
	BaseURL string `mapstructure:"base_url"`

	// MaxTokens caps the critique length.
	// Default: 300
	MaxTokens int `mapstructure:"max_tokens"`

	// Instruction is a Go template for the text part of the request.
	// Access the prompt with {{.Prompt}}.
	Instruction string `mapstructure:"instruction"`

	// DetectMIME labels the inlined image with its sniffed content type.
	// When false every image is labelled image/jpeg.
	// Default: true
	DetectMIME bool `mapstructure:"detect_mime"`

	// Timeout bounds a single critique request.
	// Default: 2m
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutputConfig contains image output settings.
type OutputConfig struct {
	// Dir is the directory generated images are written to.
	// Default: "."
	Dir string `mapstructure:"dir"`

	// Pattern is a fmt pattern taking the image index.
	// Default: "output_%d.png"
	Pattern string `mapstructure:"pattern"`
}

// PipelineConfig contains orchestration settings.
type PipelineConfig struct {
	// Parallel runs write+critique for every image concurrently.
	// The first failure still aborts the run.
	// Default: false
	Parallel bool `mapstructure:"parallel"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "warn"
	Level string `mapstructure:"level"`
}

// DefaultConfig returns a new [Config] with defaults matching the stock pipeline.
func DefaultConfig() *Config {
	return &Config{
		Prompt: DefaultPrompt,
		Workflow: WorkflowConfig{
			Path:       "pb.json",
			PromptPath: workflow.FieldPath{"6", "inputs", "text"},
		},
		Replicate: ReplicateConfig{
			Model:           DefaultReplicateModel,
			RandomiseSeeds:  true,
			ReturnTempFiles: false,
			OutputQuality:   95,
			Timeout:         10 * time.Minute,
		},
		Critique: CritiqueConfig{
			Model:       "gpt-4o",
			MaxTokens:   300,
			Instruction: DefaultInstruction,
			DetectMIME:  true,
			Timeout:     2 * time.Minute,
		},
		Output: OutputConfig{
			Dir:     ".",
			Pattern: "output_%d.png",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// PromptData contains data for instruction template expansion.
//
// Fields are accessible in templates using {{.FieldName}} syntax.
type PromptData struct {
	// Prompt is the generation prompt being critiqued.
	Prompt string
}
