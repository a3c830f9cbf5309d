// Package health provides the HTTP liveness and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP answers 200.
//   - /readyz  — readiness; 200 only once every registered [Check] passes.
//
// Responses are JSON: a top-level "status" ("ok" or "fail"), the engine
// state when a state source is attached, and a "checks" map with one entry
// per probe.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when the dependency is
// usable and an error describing the problem otherwise.
type Check struct {
	// Name keys the probe's result in the /readyz response ("engine",
	// "providers", "history").
	Name string

	// Probe must respect context cancellation.
	Probe func(ctx context.Context) error
}

// Gate is the readiness latch for the engine itself. It reports failure until
// [Gate.MarkReady] is called, which the application does once providers are
// constructed and the turn controller has started.
type Gate struct {
	ready atomic.Bool
}

// MarkReady flips the gate. Calling it again is a no-op.
func (g *Gate) MarkReady() { g.ready.Store(true) }

// Ready reports whether the gate has been flipped.
func (g *Gate) Ready() bool { return g.ready.Load() }

// Check adapts the gate into the "engine" readiness probe.
func (g *Gate) Check() Check {
	return Check{Name: "engine", Probe: func(context.Context) error {
		if !g.ready.Load() {
			return errors.New("engine not started")
		}
		return nil
	}}
}

// Handler serves the probe endpoints. It is safe for concurrent use; the
// check list is fixed at construction time.
type Handler struct {
	checks []Check
	state  func() string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithEngineState attaches a state source whose value is echoed in probe
// responses, normally the turn controller's current state.
func WithEngineState(fn func() string) Option {
	return func(h *Handler) { h.state = fn }
}

// New creates a [Handler] that evaluates the given checks on each /readyz
// request. Probes run concurrently, each bounded by its own timeout.
func New(checks []Check, opts ...Option) *Handler {
	h := &Handler{checks: make([]Check, len(checks))}
	copy(h.checks, checks)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Engine string            `json:"engine,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Engine: h.engineState()})
}

// Readyz runs every registered probe and returns 200 only when all pass.
// Failing probes report their error text in the "checks" map.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checks))

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			errs[i] = c.Probe(ctx)
		}()
	}
	wg.Wait()

	res := result{
		Status: "ok",
		Engine: h.engineState(),
		Checks: make(map[string]string, len(h.checks)),
	}
	code := http.StatusOK
	for i, c := range h.checks {
		if errs[i] != nil {
			res.Checks[c.Name] = errs[i].Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, code, res)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) engineState() string {
	if h.state == nil {
		return ""
	}
	return h.state()
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
