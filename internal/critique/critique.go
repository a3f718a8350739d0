// Package critique asks a vision-capable chat model whether a generated image
// matches its prompt.
package critique

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ouiliame/pb-img/internal/config"
	"github.com/ouiliame/pb-img/internal/images"
)

// ErrRemoteService indicates the vision model request failed or returned no
// choices.
var ErrRemoteService = errors.New("critique service error")

// Client sends one image and one instruction per request.
type Client struct {
	api         openai.Client
	model       string
	maxTokens   int
	instruction string
	detectMIME  bool
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a [Client] from the critique config section.
// A nil httpClient uses the SDK default.
//
// The SDK's own retries are disabled: a failed critique fails the run.
func New(cfg config.CritiqueConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	instruction := cfg.Instruction
	if instruction == "" {
		instruction = config.DefaultInstruction
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		instruction: instruction,
		detectMIME:  cfg.DetectMIME,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Instruction returns the text sent alongside the image for prompt.
func (c *Client) Instruction(prompt string) (string, error) {
	return config.ExpandTemplate(c.instruction, config.PromptData{Prompt: prompt})
}

// Critique uploads the image at imagePath with the instruction for prompt and
// returns the model's free-text answer as-is, which may be empty.
//
// Returns [images.ErrRead] if the file cannot be read and [ErrRemoteService]
// for any request failure or a response without choices.
func (c *Client) Critique(ctx context.Context, imagePath, prompt string) (string, error) {
	dataURL, err := images.ReadDataURL(imagePath, c.detectMIME)
	if err != nil {
		return "", err
	}

	text, err := c.Instruction(prompt)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(text),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		MaxTokens: openai.Int(int64(c.maxTokens)),
	}

	c.logger.Debug("requesting critique", "model", c.model, "image", imagePath, "payload_bytes", len(dataURL))
	start := time.Now()

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s returned status %d: %v", ErrRemoteService, c.model, apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%w: %v", ErrRemoteService, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", ErrRemoteService, c.model)
	}

	answer := resp.Choices[0].Message.Content

	c.logger.Info("critique complete", "image", imagePath, "duration", time.Since(start).Round(time.Millisecond))
	return answer, nil
}
