package generator

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/replicate/replicate-go"
)

// ReplicatePredictor runs predictions on Replicate.
//
// The SDK client is created on first use so commands that never generate
// do not require a token.
type ReplicatePredictor struct {
	token      string
	baseURL    string
	httpClient *http.Client

	once   sync.Once
	client *replicate.Client
	err    error
}

// NewReplicatePredictor creates a [ReplicatePredictor]. An empty baseURL
// uses the SDK default endpoint.
func NewReplicatePredictor(token, baseURL string, httpClient *http.Client) *ReplicatePredictor {
	return &ReplicatePredictor{
		token:      token,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (p *ReplicatePredictor) init() (*replicate.Client, error) {
	p.once.Do(func() {
		if p.token == "" {
			p.err = errors.New("replicate API token is not set (REPLICATE_API_TOKEN)")
			return
		}
		opts := []replicate.ClientOption{replicate.WithToken(p.token)}
		if p.baseURL != "" {
			opts = append(opts, replicate.WithBaseURL(p.baseURL))
		}
		if p.httpClient != nil {
			opts = append(opts, replicate.WithHTTPClient(p.httpClient))
		}
		p.client, p.err = replicate.NewClient(opts...)
	})
	return p.client, p.err
}

// Predict creates a prediction for model ("owner/name:version") and waits
// for it to finish.
func (p *ReplicatePredictor) Predict(ctx context.Context, model string, input map[string]any) (any, error) {
	client, err := p.init()
	if err != nil {
		return nil, err
	}
	out, err := client.Run(ctx, model, replicate.PredictionInput(input), nil)
	if err != nil {
		return nil, err
	}
	return any(out), nil
}
