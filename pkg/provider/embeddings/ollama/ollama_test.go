package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/embeddings/ollama"
)

// embedPayload mirrors the request body of Ollama's /api/embed endpoint.
type embedPayload struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive"`
}

// embedServer fakes /api/embed with canned vectors and records each request.
type embedServer struct {
	*httptest.Server
	vecs [][]float32

	mu    sync.Mutex
	calls int
	last  embedPayload
}

func startEmbedServer(t *testing.T, vecs [][]float32) *embedServer {
	t.Helper()
	s := &embedServer{vecs: vecs}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req embedPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.calls++
		s.last = req
		s.mu.Unlock()

		out := s.vecs
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *embedServer) seen() (calls int, last embedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.last
}

// unreachable is an address no request should ever succeed against; tests use
// it to prove a code path stays offline.
const unreachable = "http://127.0.0.1:19999"

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model, got nil")
	}

	// An empty baseURL silently becomes the local default.
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID() = %q; want %q", p.ModelID(), "nomic-embed-text")
	}
}

func TestEmbed_ReturnsVector(t *testing.T) {
	t.Parallel()
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := startEmbedServer(t, [][]float32{want})

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Embed(context.Background(), "could you repeat that more slowly")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestEmbed_RequestCarriesModelAndKeepAlive(t *testing.T) {
	t.Parallel()
	srv := startEmbedServer(t, [][]float32{{0.5}})

	p, err := ollama.New(srv.URL, "nomic-embed-text", ollama.WithKeepAlive("10m"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "the pharmacy closes at six"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	calls, last := srv.seen()
	if calls != 1 {
		t.Fatalf("server saw %d requests; want 1", calls)
	}
	if last.Model != "nomic-embed-text" {
		t.Errorf("request model = %q; want %q", last.Model, "nomic-embed-text")
	}
	if last.KeepAlive != "10m" {
		t.Errorf("request keep_alive = %q; want %q", last.KeepAlive, "10m")
	}
	if len(last.Input) != 1 || last.Input[0] != "the pharmacy closes at six" {
		t.Errorf("request input = %v", last.Input)
	}
}

func TestEmbedBatch_OneRequestOrderPreserved(t *testing.T) {
	t.Parallel()
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	srv := startEmbedServer(t, vecs)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{
		"where is the ticket office",
		"two adults to the city center",
		"does this train stop at the airport",
	}
	got, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d vectors; want %d", len(got), len(texts))
	}
	for i, wantVec := range vecs {
		for j, wantVal := range wantVec {
			if got[i][j] != wantVal {
				t.Errorf("vec[%d][%d] = %v; want %v", i, j, got[i][j], wantVal)
			}
		}
	}

	if calls, _ := srv.seen(); calls != 1 {
		t.Errorf("batch issued %d requests; want 1", calls)
	}
}

func TestEmbedBatch_NoTextsNoRequest(t *testing.T) {
	t.Parallel()
	p, err := ollama.New(unreachable, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v; want nil", got)
	}
}

func TestDimensions_KnownModelsStayOffline(t *testing.T) {
	t.Parallel()
	cases := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			p, err := ollama.New(unreachable, tc.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions() = %d; want %d", got, tc.want)
			}
		})
	}
}

func TestDimensions_UnknownModelProbesOnce(t *testing.T) {
	t.Parallel()
	const dim = 512
	probeVec := make([]float32, dim)
	srv := startEmbedServer(t, [][]float32{probeVec})

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := range 3 {
		if got := p.Dimensions(); got != dim {
			t.Errorf("call %d: Dimensions() = %d; want %d", i, got, dim)
		}
	}
	if calls, _ := srv.seen(); calls != 1 {
		t.Errorf("probe issued %d requests; want exactly 1", calls)
	}
}

func TestDimensions_OptionSkipsProbe(t *testing.T) {
	t.Parallel()
	p, err := ollama.New(unreachable, "custom-model", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d; want 256", got)
	}
}

func TestEmbed_ServerFailures(t *testing.T) {
	t.Parallel()

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()
		p, err := ollama.New(unreachable, "nomic-embed-text",
			ollama.WithTimeout(500*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for unreachable server, got nil")
		}
	})

	t.Run("error envelope is surfaced", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "model 'typo-embed' not found"})
		}))
		t.Cleanup(srv.Close)

		p, err := ollama.New(srv.URL, "typo-embed")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = p.Embed(context.Background(), "hello")
		if err == nil {
			t.Fatal("expected error for 404 response, got nil")
		}
		if !strings.Contains(err.Error(), "model 'typo-embed' not found") {
			t.Errorf("error %q does not carry the server message", err)
		}
	})

	t.Run("plain 500", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for 500 response, got nil")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not-json"))
		}))
		t.Cleanup(srv.Close)

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for malformed JSON, got nil")
		}
	})
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()

	// The handler parks until the client gives up, so only the context
	// deadline can end the call. stopCh unblocks it afterwards so Close can
	// drain the connection.
	stopCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stopCh:
		}
	}))
	defer srv.Close()
	defer close(stopCh)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("expected context cancellation error, got nil")
	}
}
