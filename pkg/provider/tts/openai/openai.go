// Package openai provides a synthesizer backed by the OpenAI speech API
// (POST /v1/audio/speech). It implements the tts.Provider interface.
//
// Audio is requested in raw PCM response format, which the API delivers as
// 24 kHz mono 16-bit little-endian samples, so no container parsing is needed
// before playback.
//
// Typical usage:
//
//	p, err := openai.New(os.Getenv("OPENAI_API_KEY"),
//	    openai.WithVoice(openai.VoiceNova),
//	    openai.WithModel(openai.ModelTTS1HD),
//	)
//	out, err := p.Synthesize(ctx, tts.Request{Text: "dos cafés, por favor", Lang: "es"})
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	speechEndpoint = "/audio/speech"
	defaultTimeout = 30 * time.Second

	// ModelTTS1 is the OpenAI TTS model optimized for latency.
	ModelTTS1 = "tts-1"
	// ModelTTS1HD is the OpenAI TTS model optimized for quality.
	ModelTTS1HD = "tts-1-hd"

	// pcmSampleRate is the fixed rate of the "pcm" response format.
	pcmSampleRate = 24000
)

// Voices accepted by the speech API.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// Voices returns the voice identifiers the speech API accepts. Useful for
// validating configuration before the first request.
func Voices() []string {
	return []string{VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer}
}

// ---- options ----

// Option is a functional option for configuring an openai Provider.
type Option func(*Provider)

// WithBaseURL sets a custom API base URL (for testing or proxies).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the TTS model. Defaults to tts-1.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice used when a request does not name one.
// Defaults to alloy.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by the OpenAI speech API.
// It is safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

// New creates a Provider that authenticates with apiKey. apiKey must be
// non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   ModelTTS1,
		voice:   VoiceAlloy,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// speechRequest is the JSON body sent to POST /audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// apiErrorResponse is the JSON error envelope the API returns on failures.
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Synthesize performs a single POST /audio/speech call in pcm response mode.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Audio{}, errors.New("openai: text must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	body := speechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "pcm",
		Speed:          req.Speed,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+speechEndpoint, bytes.NewReader(data))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: create speech request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: POST %s: %w", speechEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ae apiErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae) == nil && ae.Error.Message != "" {
			return tts.Audio{}, fmt.Errorf("openai: POST %s returned status %d: %s", speechEndpoint, resp.StatusCode, ae.Error.Message)
		}
		return tts.Audio{}, fmt.Errorf("openai: POST %s returned status %d", speechEndpoint, resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: read PCM response: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("openai: empty PCM response")
	}

	return tts.Audio{
		PCM:    pcm,
		Format: audio.Format{SampleRate: pcmSampleRate, Channels: 1},
	}, nil
}
