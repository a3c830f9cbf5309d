package libre_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tandemvoice/tandem/pkg/provider/translate"
	"github.com/tandemvoice/tandem/pkg/provider/translate/libre"
)

// newTranslateServer returns a server answering POST /translate with the given
// text and capturing the decoded request body into *got.
func newTranslateServer(t *testing.T, responseText string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": responseText})
	}))
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := libre.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranslate_Success(t *testing.T) {
	var body map[string]any
	srv := newTranslateServer(t, "buenos días", &body)
	defer srv.Close()

	p, err := libre.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Translate(context.Background(), translate.Request{
		Text:       "good morning",
		SourceLang: "en",
		TargetLang: "es",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Text != "buenos días" {
		t.Errorf("Text = %q; want %q", res.Text, "buenos días")
	}

	if body["q"] != "good morning" {
		t.Errorf("request q = %v; want %q", body["q"], "good morning")
	}
	if body["source"] != "en" || body["target"] != "es" {
		t.Errorf("request pair = %v→%v; want en→es", body["source"], body["target"])
	}
	if body["format"] != "text" {
		t.Errorf("request format = %v; want text", body["format"])
	}
}

func TestTranslate_LowercasesLanguageCodes(t *testing.T) {
	var body map[string]any
	srv := newTranslateServer(t, "bonjour", &body)
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	_, err := p.Translate(context.Background(), translate.Request{
		Text:       "hello",
		SourceLang: "EN",
		TargetLang: "Fr",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if body["source"] != "en" || body["target"] != "fr" {
		t.Errorf("request pair = %v→%v; want en→fr", body["source"], body["target"])
	}
}

func TestTranslate_SendsAPIKey(t *testing.T) {
	var body map[string]any
	srv := newTranslateServer(t, "hola", &body)
	defer srv.Close()

	p, _ := libre.New(srv.URL, libre.WithAPIKey("lt-secret"))
	_, err := p.Translate(context.Background(), translate.Request{
		Text: "hi", SourceLang: "en", TargetLang: "es",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if body["api_key"] != "lt-secret" {
		t.Errorf("request api_key = %v; want lt-secret", body["api_key"])
	}
}

func TestTranslate_ErrorResponse_IncludesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid API key"})
	}))
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	_, err := p.Translate(context.Background(), translate.Request{
		Text: "hi", SourceLang: "en", TargetLang: "es",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("error %q should contain the server message", err)
	}
}

func TestTranslate_ErrorResponse_NoJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	_, err := p.Translate(context.Background(), translate.Request{
		Text: "hi", SourceLang: "en", TargetLang: "es",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q should mention the status code", err)
	}
}

func TestTranslate_EmptyTranslation_ReturnsError(t *testing.T) {
	srv := newTranslateServer(t, "", nil)
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	_, err := p.Translate(context.Background(), translate.Request{
		Text: "hi", SourceLang: "en", TargetLang: "es",
	})
	if err == nil {
		t.Fatal("expected error for empty translation of non-empty input, got nil")
	}
}

func TestTranslate_CancelledContext_ReturnsError(t *testing.T) {
	srv := newTranslateServer(t, "hola", nil)
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Translate(ctx, translate.Request{
		Text: "hi", SourceLang: "en", TargetLang: "es",
	})
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

// newLanguagesServer answers GET /languages with the given support table.
func newLanguagesServer(t *testing.T, langs []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/languages" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(langs)
	}))
}

func TestSupportsPair(t *testing.T) {
	srv := newLanguagesServer(t, []map[string]any{
		{"code": "en", "name": "English", "targets": []string{"es", "fr"}},
		{"code": "es", "name": "Spanish", "targets": []string{"en"}},
	})
	defer srv.Close()

	p, _ := libre.New(srv.URL)

	tests := []struct {
		source, target string
		want           bool
	}{
		{"en", "es", true},
		{"en", "fr", true},
		{"es", "en", true},
		{"es", "fr", false},  // advertised source, missing target
		{"de", "en", false},  // unknown source
		{"EN", "ES", true},   // case-insensitive
		{" en", "es ", true}, // tolerates whitespace
	}
	for _, tt := range tests {
		if got := p.SupportsPair(tt.source, tt.target); got != tt.want {
			t.Errorf("SupportsPair(%q, %q) = %v; want %v", tt.source, tt.target, got, tt.want)
		}
	}
}

func TestSupportsPair_LanguagesUnavailable_AssumesSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := libre.New(srv.URL)
	if !p.SupportsPair("xx", "yy") {
		t.Error("SupportsPair should answer true while the language list is unavailable")
	}
}

func TestName(t *testing.T) {
	p, _ := libre.New("http://localhost:5000")
	if p.Name() != "libre" {
		t.Errorf("Name() = %q; want libre", p.Name())
	}
}
