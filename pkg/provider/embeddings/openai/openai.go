// Package openai embeds utterance text through the OpenAI embeddings API for
// semantic history recall.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI embeddings API.
//
// The text-embedding-3 family can shorten vectors server-side; WithDimensions
// requests that, so stored vectors can match an existing history schema
// without re-embedding.
type Provider struct {
	model string
	dims  int

	baseURL string
	org     string
	timeout time.Duration

	client oai.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible endpoint other than
// the hosted API.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOrganization stamps every request with the given organization ID.
func WithOrganization(org string) Option {
	return func(p *Provider) { p.org = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithDimensions asks the API for vectors of exactly dims entries. Only the
// text-embedding-3 family supports shortening; other models reject it.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dims = dims }
}

// New constructs an OpenAI embeddings provider. An empty model selects
// DefaultModel (text-embedding-3-small).
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}

	p := &Provider{model: model}
	if p.model == "" {
		p.model = DefaultModel
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(p.org))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)

	return p, nil
}

// params assembles the request, attaching the dimension override when set.
func (p *Provider) params(input oai.EmbeddingNewParamsInputUnion) oai.EmbeddingNewParams {
	req := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.dims > 0 {
		req.Dimensions = param.NewOpt(int64(p.dims))
	}
	return req
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	return narrow(resp.Data[0].Embedding), nil
}

// EmbedBatch implements embeddings.Provider. The API reports each vector with
// its input index, so results are placed positionally rather than in arrival
// order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: %d inputs but %d vectors in response", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: vector index %d out of range", e.Index)
		}
		vectors[e.Index] = narrow(e.Embedding)
	}
	return vectors, nil
}

// Dimensions implements embeddings.Provider. A WithDimensions override wins;
// otherwise the model's native width is reported.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	return nativeDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// nativeWidths maps model-name fragments to their full vector width. Matching
// on fragments tolerates routed names like "openai/text-embedding-3-small".
var nativeWidths = []struct {
	fragment string
	dims     int
}{
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada-002", 1536},
}

func nativeDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, w := range nativeWidths {
		if strings.Contains(lower, w.fragment) {
			return w.dims
		}
	}
	return 1536
}

// narrow converts the API's float64 vector to the float32 form the history
// store persists.
func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
