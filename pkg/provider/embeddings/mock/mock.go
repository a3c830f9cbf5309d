// Package mock fakes text embedding for tests.
//
// Without any configuration beyond DimensionsValue, Embed derives a unit
// vector from the text, so distinct texts land on (mostly) distinct
// components and every vector has a magnitude. That is enough for
// vector-store tests that only care about plumbing.
//
// Example:
//
//	p := &mock.Provider{DimensionsValue: 4}
//	vec, _ := p.Embed(ctx, "two tickets to the city center")
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
)

// Provider implements embeddings.Provider with scripted responses.
type Provider struct {
	mu sync.Mutex

	// DimensionsValue is returned by Dimensions and sizes the derived vectors.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Defaults to "mock" when empty.
	ModelIDValue string

	// EmbedResult, when non-nil, is returned by every Embed call instead of a
	// derived vector. The default batch path hands it out per text as well.
	EmbedResult []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch while the Func
	// overrides are nil.
	Err error

	// EmbedFunc, if non-nil, computes each vector and overrides EmbedResult
	// and Err. The call is still recorded.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedBatchFunc, if non-nil, replaces the default batch behaviour, which
	// funnels every text through Embed.
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// ─── Call records ───

	// EmbedTexts records the text of every Embed call in order. The default
	// batch path records its texts here too.
	EmbedTexts []string

	// BatchCalls records a copy of the texts passed to every EmbedBatch call.
	BatchCalls [][]string
}

// Embed records the call, then delegates to EmbedFunc if set, otherwise
// returns EmbedResult/Err, falling back to a vector derived from the text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedTexts = append(p.EmbedTexts, text)
	fn := p.EmbedFunc
	res, err, dims := p.EmbedResult, p.Err, p.DimensionsValue
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return deriveVector(text, dims), nil
}

// EmbedBatch records the call, then delegates to EmbedBatchFunc if set,
// otherwise embeds each text in turn via Embed.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)

	p.mu.Lock()
	p.BatchCalls = append(p.BatchCalls, cp)
	fn := p.EmbedBatchFunc
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, embedErr := p.Embed(ctx, text)
		if embedErr != nil {
			return nil, embedErr
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue, or "mock" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock"
	}
	return p.ModelIDValue
}

// EmbedCallCount returns the number of Embed calls. Thread-safe.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedTexts)
}

// Reset forgets the recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedTexts = nil
	p.BatchCalls = nil
}

// deriveVector maps text onto a unit vector of the given width.
func deriveVector(text string, dims int) []float32 {
	if dims <= 0 {
		return []float32{}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	vec := make([]float32, dims)
	vec[int(h.Sum32())%dims] = 1
	return vec
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)
