// Package llm provides a translator backed by an LLM chat completion through
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Any language pair is supported: the pair is expressed in the system prompt
// and the model does the rest, so SupportsPair always answers true and the
// engine never needs an English pivot with this backend.
//
// Usage:
//
//	p, err := llm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := llm.New("ollama", "llama3")
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/tandemvoice/tandem/pkg/provider/translate"
)

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

const (
	// defaultTemperature keeps the model close to literal translation.
	defaultTemperature = 0.1

	// defaultMaxTokens bounds runaway generations; utterance-sized inputs
	// never come close.
	defaultMaxTokens = 1024
)

// Provider implements translate.Provider by prompting an LLM backend through
// github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	backendName string
	model       string
}

// New creates a Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o-mini", "llama3").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to its usual environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, errors.New("llm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("llm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}

	return &Provider{
		backend:     backend,
		backendName: strings.ToLower(providerName),
		model:       model,
	}, nil
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements translate.Provider.
func (p *Provider) Name() string { return "llm:" + p.backendName }

// SupportsPair implements translate.Provider. The pair goes into the prompt,
// so every pair is supported.
func (p *Provider) SupportsPair(source, target string) bool { return true }

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	temp := defaultTemperature
	maxTokens := defaultMaxTokens

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(req.SourceLang, req.TargetLang)},
			{Role: "user", Content: req.Text},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return translate.Result{}, fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return translate.Result{}, errors.New("llm: empty choices in response")
	}

	text := stripQuotes(strings.TrimSpace(resp.Choices[0].Message.ContentString()))
	if text == "" {
		return translate.Result{}, errors.New("llm: empty translation in response")
	}
	return translate.Result{Text: text}, nil
}

// systemPrompt builds the translation instruction for one language pair.
func systemPrompt(source, target string) string {
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's message from %s to %s. "+
			"Reply with only the translation. No explanations, no notes, no quotation marks.",
		languageName(source), languageName(target))
}

// stripQuotes removes one pair of wrapping quotes that chat models sometimes
// add around a translation despite the prompt.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// languageName maps common language codes to their English names so the prompt
// reads naturally. Unknown codes pass through unchanged, which models handle
// fine.
func languageName(code string) string {
	names := map[string]string{
		"ar": "Arabic",
		"cs": "Czech",
		"da": "Danish",
		"de": "German",
		"el": "Greek",
		"en": "English",
		"es": "Spanish",
		"fi": "Finnish",
		"fr": "French",
		"he": "Hebrew",
		"hi": "Hindi",
		"id": "Indonesian",
		"it": "Italian",
		"ja": "Japanese",
		"ko": "Korean",
		"nl": "Dutch",
		"no": "Norwegian",
		"pl": "Polish",
		"pt": "Portuguese",
		"ro": "Romanian",
		"ru": "Russian",
		"sv": "Swedish",
		"th": "Thai",
		"tr": "Turkish",
		"uk": "Ukrainian",
		"vi": "Vietnamese",
		"zh": "Chinese",
	}
	if name, ok := names[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return code
}
