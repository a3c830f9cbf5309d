// Package libre provides a translator backed by a LibreTranslate server via
// its REST API. It implements the translate.Provider interface.
//
// Synthesis of supported language pairs comes from GET /languages, which
// LibreTranslate answers with one entry per source language and the targets it
// can reach. The list is fetched lazily on the first SupportsPair call and
// cached; while it is unavailable every pair is assumed supported and the
// server arbitrates.
//
// Typical usage:
//
//	p, err := libre.New("http://localhost:5000",
//	    libre.WithAPIKey("lt-..."),
//	    libre.WithTimeout(15*time.Second),
//	)
//	res, err := p.Translate(ctx, translate.Request{
//	    Text: "good morning", SourceLang: "en", TargetLang: "es",
//	})
package libre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/translate"
)

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 30 * time.Second
	translateEndpoint = "/translate"
	languagesEndpoint = "/languages"

	// languagesTimeout bounds the lazy /languages fetch so a slow server
	// cannot stall the first pair lookup.
	languagesTimeout = 5 * time.Second

	// languagesRetryBackoff is how long to wait before re-attempting a failed
	// /languages fetch. Until the list loads, SupportsPair answers true.
	languagesRetryBackoff = time.Minute
)

// ---- options ----

// Option is a functional option for configuring a libre Provider.
type Option func(*Provider)

// WithAPIKey sets the API key sent with every request. LibreTranslate
// instances without key enforcement ignore it.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// ---- Provider ----

// Provider implements translate.Provider backed by a LibreTranslate server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client

	// mu guards the lazily-fetched language pair table.
	mu        sync.Mutex
	pairs     map[string]map[string]bool
	nextFetch time.Time
}

// New creates a Provider that targets the LibreTranslate server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("libre: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements translate.Provider.
func (p *Provider) Name() string { return "libre" }

// ---- internal request/response types ----

// translateRequest is the JSON body sent to POST /translate.
type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// translateResponse is the JSON body returned by POST /translate.
type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// apiError is the JSON body LibreTranslate returns on non-200 responses.
type apiError struct {
	Error string `json:"error"`
}

// languageInfo is one entry of the GET /languages response.
type languageInfo struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

// ---- Translate ----

// Translate performs a single POST /translate call.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	body := translateRequest{
		Q:      req.Text,
		Source: strings.ToLower(req.SourceLang),
		Target: strings.ToLower(req.TargetLang),
		Format: "text",
		APIKey: p.apiKey,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return translate.Result{}, fmt.Errorf("libre: marshal translate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+translateEndpoint, bytes.NewReader(data))
	if err != nil {
		return translate.Result{}, fmt.Errorf("libre: create translate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return translate.Result{}, fmt.Errorf("libre: POST %s: %w", translateEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae) == nil && ae.Error != "" {
			return translate.Result{}, fmt.Errorf("libre: POST %s returned status %d: %s", translateEndpoint, resp.StatusCode, ae.Error)
		}
		return translate.Result{}, fmt.Errorf("libre: POST %s returned status %d", translateEndpoint, resp.StatusCode)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return translate.Result{}, fmt.Errorf("libre: decode translate response: %w", err)
	}
	if out.TranslatedText == "" && strings.TrimSpace(req.Text) != "" {
		return translate.Result{}, errors.New("libre: empty translation in response")
	}
	return translate.Result{Text: out.TranslatedText}, nil
}

// ---- SupportsPair ----

// SupportsPair consults the cached /languages table. While the table is
// unavailable it returns true so translation attempts reach the server, which
// rejects unsupported pairs itself.
func (p *Provider) SupportsPair(source, target string) bool {
	pairs := p.loadPairs()
	if pairs == nil {
		return true
	}
	targets, ok := pairs[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return false
	}
	return targets[strings.ToLower(strings.TrimSpace(target))]
}

// loadPairs returns the cached pair table, fetching it from the server when
// it has not been loaded yet. Failed fetches are retried no more often than
// languagesRetryBackoff.
func (p *Provider) loadPairs() map[string]map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pairs != nil || time.Now().Before(p.nextFetch) {
		return p.pairs
	}
	p.nextFetch = time.Now().Add(languagesRetryBackoff)

	pairs, err := p.fetchLanguages()
	if err != nil {
		slog.Warn("libre: language list unavailable, assuming all pairs supported",
			"server", p.serverURL,
			"error", err)
		return nil
	}
	p.pairs = pairs
	return p.pairs
}

// fetchLanguages performs a single GET /languages call and builds the
// source→target support table.
func (p *Provider) fetchLanguages() (map[string]map[string]bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), languagesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+languagesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("libre: create languages request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("libre: GET %s: %w", languagesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("libre: GET %s returned status %d", languagesEndpoint, resp.StatusCode)
	}

	var langs []languageInfo
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		return nil, fmt.Errorf("libre: decode languages response: %w", err)
	}

	pairs := make(map[string]map[string]bool, len(langs))
	for _, l := range langs {
		code := strings.ToLower(l.Code)
		if code == "" {
			continue
		}
		targets := make(map[string]bool, len(l.Targets))
		for _, t := range l.Targets {
			targets[strings.ToLower(t)] = true
		}
		pairs[code] = targets
	}
	return pairs, nil
}
