// Package translate defines the translator contract shared by all translation
// backends.
//
// A translator handles one utterance-sized request per call. Streaming is not
// part of the contract: every backend in use (LibreTranslate REST, LLM chat
// completion) is request/response shaped, and the engine translates whole
// segments anyway.
package translate

import "context"

// Request is a single translation request.
type Request struct {
	// Text is the source text. Callers normalize it before submission.
	Text string

	// SourceLang is the lowercase language code of Text (e.g. "en", "es").
	SourceLang string

	// TargetLang is the language to translate into.
	TargetLang string
}

// Result is a completed translation.
type Result struct {
	// Text is the translated text.
	Text string
}

// Provider is implemented by translation backends.
type Provider interface {
	// Translate performs one translation. Implementations must honor ctx
	// cancellation and deadlines; the engine applies a per-attempt timeout
	// around every call.
	Translate(ctx context.Context, req Request) (Result, error)

	// SupportsPair reports whether the backend can translate directly from
	// source to target. The engine routes unsupported pairs through an
	// English pivot. Backends that can translate arbitrary pairs return true
	// unconditionally.
	SupportsPair(source, target string) bool

	// Name returns a short identifier for logs and status messages.
	Name() string
}
