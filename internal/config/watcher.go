package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one observed version of the config file. The mtime is
// the cheap first-pass check; the content hash settles whether a touched file
// actually changed.
type fileState struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// defaultPollInterval is how often the watcher checks the file when
// WithInterval is not given.
const defaultPollInterval = 5 * time.Second

// Watcher polls a config file and reports edits through a callback. Polling
// (rather than fsnotify) keeps the dependency surface flat for a file that
// changes a few times a day at most.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	seen     fileState
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the default poll interval; non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path, fails if that first load does, and
// then keeps polling the file in a background goroutine until Stop.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: initial load of %s: %w", path, err)
	}
	w.current, w.seen = cfg, state

	go w.run()
	return w, nil
}

// Current returns the latest config that parsed and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan re-reads the file when its mtime moved and swaps in the new config if
// the content both differs and validates. An invalid file is logged and
// skipped so the previous config stays in effect.
func (w *Watcher) scan() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	seenAt := w.seen.modTime
	w.mu.Unlock()
	if info.ModTime().Equal(seenAt) {
		return
	}

	cfg, state, err := readConfigFile(w.path)
	if err != nil {
		slog.Warn("config watcher: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	same := state.sum == w.seen.sum
	old := w.current
	if !same {
		w.current = cfg
	}
	w.seen = state
	w.mu.Unlock()

	if same {
		// Touched but content identical.
		return
	}

	slog.Info("config watcher: config reloaded", "path", w.path)

	// The callback runs outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// readConfigFile parses and validates the file at path. Stat and read go
// through the same descriptor so the returned state's mtime matches the bytes
// that were hashed even if the file is replaced mid-read.
func readConfigFile(path string) (*Config, fileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
