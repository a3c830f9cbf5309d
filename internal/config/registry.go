package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
	"github.com/tandemvoice/tandem/pkg/provider/translate"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
)

// ErrProviderNotRegistered means a Create* call asked for a name no factory
// was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factorySet is the name-to-factory table for one provider kind. The zero
// value is ready to use; kind labels error messages.
type factorySet[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]Factory[T]
}

func (s *factorySet[T]) register(name string, factory Factory[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byName == nil {
		s.byName = make(map[string]Factory[T])
	}
	s.byName[name] = factory
}

func (s *factorySet[T]) create(entry ProviderEntry) (T, error) {
	s.mu.RLock()
	factory, ok := s.byName[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions, one table per
// provider kind. It is safe for concurrent use.
type Registry struct {
	recognizers  factorySet[stt.Provider]
	translators  factorySet[translate.Provider]
	synthesizers factorySet[tts.Provider]
	platforms    factorySet[audio.Platform]
	embedders    factorySet[embeddings.Provider]
}

// NewRegistry returns a [Registry] with no factories registered yet.
func NewRegistry() *Registry {
	return &Registry{
		recognizers:  factorySet[stt.Provider]{kind: "recognizer"},
		translators:  factorySet[translate.Provider]{kind: "translator"},
		synthesizers: factorySet[tts.Provider]{kind: "synthesizer"},
		platforms:    factorySet[audio.Platform]{kind: "audio"},
		embedders:    factorySet[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterRecognizer registers a speech recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration;
// the same holds for every other Register method.
func (r *Registry) RegisterRecognizer(name string, factory Factory[stt.Provider]) {
	r.recognizers.register(name, factory)
}

// RegisterTranslator registers a translator factory under name.
func (r *Registry) RegisterTranslator(name string, factory Factory[translate.Provider]) {
	r.translators.register(name, factory)
}

// RegisterSynthesizer registers a speech synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory Factory[tts.Provider]) {
	r.synthesizers.register(name, factory)
}

// RegisterAudio registers a factory for an audio platform under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Platform]) {
	r.platforms.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory Factory[embeddings.Provider]) {
	r.embedders.register(name, factory)
}

// CreateRecognizer instantiates the recognizer registered under entry.Name.
// It returns [ErrProviderNotRegistered] when no factory carries that name;
// the same holds for every other Create method.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Provider, error) {
	return r.recognizers.create(entry)
}

// CreateTranslator instantiates the translator registered under entry.Name.
func (r *Registry) CreateTranslator(entry ProviderEntry) (translate.Provider, error) {
	return r.translators.create(entry)
}

// CreateSynthesizer instantiates the synthesizer registered under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (tts.Provider, error) {
	return r.synthesizers.create(entry)
}

// CreateAudio instantiates the audio platform registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	return r.platforms.create(entry)
}

// CreateEmbeddings instantiates the embeddings provider registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embedders.create(entry)
}
