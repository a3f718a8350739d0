// Package generator runs a workflow document on a remote ComfyUI runner and
// returns handles to the generated images.
//
// Key types:
//   - [Client] builds the prediction input and normalizes the output
//   - [Predictor] is the remote call; [ReplicatePredictor] is the production one
//   - [Image] is a lazily fetched image payload
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/ouiliame/pb-img/internal/config"
	"github.com/ouiliame/pb-img/internal/workflow"
)

// ErrRemoteService indicates the generation service failed or returned
// something unusable.
var ErrRemoteService = errors.New("image generation service error")

// Predictor runs one prediction and returns its raw output.
type Predictor interface {
	Predict(ctx context.Context, model string, input map[string]any) (any, error)
}

// Image is one generated image. Each Open streams the full payload.
type Image interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Options are the fixed generation parameters sent with every prediction.
type Options struct {
	Model           string
	RandomiseSeeds  bool
	ReturnTempFiles bool
	OutputQuality   int
	Timeout         time.Duration
}

// OptionsFromConfig maps the replicate config section to [Options].
func OptionsFromConfig(cfg config.ReplicateConfig) Options {
	return Options{
		Model:           cfg.Model,
		RandomiseSeeds:  cfg.RandomiseSeeds,
		ReturnTempFiles: cfg.ReturnTempFiles,
		OutputQuality:   cfg.OutputQuality,
		Timeout:         cfg.Timeout,
	}
}

// Client generates images from workflow documents.
type Client struct {
	predictor  Predictor
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

// New creates a [Client]. httpClient is used to download URL outputs;
// nil means http.DefaultClient.
func New(predictor Predictor, httpClient *http.Client, opts Options, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		predictor:  predictor,
		httpClient: httpClient,
		opts:       opts,
		logger:     logger,
	}
}

// NewFromConfig creates a [Client] backed by Replicate.
func NewFromConfig(cfg config.ReplicateConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{}
	predictor := NewReplicatePredictor(cfg.APIToken, cfg.BaseURL, httpClient)
	return New(predictor, httpClient, OptionsFromConfig(cfg), logger)
}

// Input builds the prediction input for doc.
func (c *Client) Input(doc workflow.Document) (map[string]any, error) {
	compact, err := workflow.Compact(doc)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"workflow_json":     compact,
		"randomise_seeds":   c.opts.RandomiseSeeds,
		"return_temp_files": c.opts.ReturnTempFiles,
		"output_quality":    c.opts.OutputQuality,
	}, nil
}

// Generate runs doc on the configured model and returns the output images in
// service order. No retry is attempted; any failure wraps [ErrRemoteService].
func (c *Client) Generate(ctx context.Context, doc workflow.Document) ([]Image, error) {
	input, err := c.Input(doc)
	if err != nil {
		return nil, err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	c.logger.Debug("starting prediction", "model", c.opts.Model, "workflow_bytes", len(input["workflow_json"].(string)))
	start := time.Now()

	out, err := c.predictor.Predict(ctx, c.opts.Model, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteService, err)
	}

	refs, err := outputRefs(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteService, err)
	}

	imgs := make([]Image, 0, len(refs))
	for _, ref := range refs {
		img, err := c.imageFromRef(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteService, err)
		}
		imgs = append(imgs, img)
	}

	c.logger.Info("prediction complete", "images", len(imgs), "duration", time.Since(start).Round(time.Millisecond))
	return imgs, nil
}

// outputRefs flattens the prediction output into a list of URLs or data URIs.
func outputRefs(out any) ([]string, error) {
	switch v := out.(type) {
	case nil:
		return nil, errors.New("prediction returned no output")
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		refs := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("output[%d] is %T, not a string", i, item)
			}
			refs = append(refs, s)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unexpected output type %T", out)
	}
}

func (c *Client) imageFromRef(ref string) (Image, error) {
	if strings.HasPrefix(ref, "data:") {
		du, err := dataurl.DecodeString(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to decode data URI: %w", err)
		}
		return NewInlineImage(du.Data), nil
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, fmt.Errorf("unsupported output reference %q", ref)
	}
	return &remoteImage{url: ref, client: c.httpClient}, nil
}

// NewInlineImage wraps an in-memory payload as an [Image].
func NewInlineImage(data []byte) Image {
	return inlineImage(data)
}

type inlineImage []byte

func (b inlineImage) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

type remoteImage struct {
	url    string
	client *http.Client
}

func (r *remoteImage) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteService, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download %s: %v", ErrRemoteService, r.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s returned %s", ErrRemoteService, r.url, resp.Status)
	}
	return resp.Body, nil
}

func (r *remoteImage) String() string {
	return r.url
}
