// Package ollama provides an embeddings provider backed by a local Ollama
// server, so history recall can run fully offline alongside the local
// recognizer and synthesizer.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
)

// DefaultBaseURL is the base URL of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider against Ollama's /api/embed
// endpoint, for models such as nomic-embed-text, mxbai-embed-large, and
// all-minilm.
//
// The vector dimension is resolved from an explicit WithDimensions option,
// then from a table of known model names, and as a last resort by issuing one
// probe request on the first Dimensions call and caching the result.
type Provider struct {
	baseURL   string
	model     string
	keepAlive string
	timeout   time.Duration
	client    *http.Client

	dimensions int
	detectOnce sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithDimensions pre-sets the embedding dimension, skipping both the model
// table and the probe request for unknown models.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dimensions = dims }
}

// WithKeepAlive controls how long Ollama keeps the embedding model loaded
// after a request ("10m", "1h", "-1" for indefinitely). Turns arrive every
// few seconds during a conversation, and a cold model reload would stall the
// history write.
func WithKeepAlive(d string) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// New constructs an Ollama embeddings provider. An empty baseURL means
// DefaultBaseURL; model must name an embedding model the server has pulled.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
	for _, o := range opts {
		o(p)
	}

	p.client = &http.Client{}
	if p.timeout > 0 {
		p.client.Timeout = p.timeout
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider. The text is forwarded verbatim; any
// model-specific prefix ("query: ", "passage: ") is the caller's to add.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, errors.New("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. All texts go out in a single
// /api/embed request; result[i] corresponds to texts[i].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: %d inputs but %d vectors in response", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For models outside the known
// table and without WithDimensions, a single probe embed is issued against
// the live server; a failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		vecs, err := p.embed(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// embedRequest and embedResponse mirror Ollama's /api/embed wire format.
type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// embed runs one /api/embed call and returns the raw vectors.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out embedResponse
	in := embedRequest{Model: p.model, Input: texts, KeepAlive: p.keepAlive}
	if err := p.postJSON(ctx, "/api/embed", in, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("empty embeddings in response")
	}
	return out.Embeddings, nil
}

// postJSON round-trips one JSON request against the Ollama API, decoding a
// 200 body into out and anything else through [decodeError].
func (p *Provider) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// decodeError surfaces the server's error message when Ollama sends its
// {"error": "..."} envelope, e.g. "model not found".
func decodeError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, envelope.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// knownWidths maps model-name fragments to output dimensions for the
// embedding models Ollama commonly serves.
var knownWidths = []struct {
	fragment string
	dims     int
}{
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
}

// knownDimensions returns the output dimension for recognised models, or 0
// to trigger probing.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, w := range knownWidths {
		if strings.Contains(lower, w.fragment) {
			return w.dims
		}
	}
	return 0
}
