package ruleset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

const debounceDuration = 100 * time.Millisecond

// FileProvider watches a rule set file and republishes a fresh Snapshot on
// every change. Reads are lock-free: Current loads an atomic pointer, so
// arbitrarily many concurrent requests can fetch the active snapshot while a
// reload installs the next one. A file that fails to parse keeps the
// previously active snapshot (fail-open for configuration errors).
type FileProvider struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	generation  int64
	subscribers []chan Snapshot
	onReload    func(ok bool)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewFileProvider creates a provider watching path. The initial load failing
// is not fatal: the provider starts with an empty rule set and picks the
// file up once it becomes readable.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ruleset: resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ruleset: create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}
	p.current.Store(&Snapshot{Generation: 0, ReceivedAt: time.Now(), Config: policy.Empty()})

	if err := p.load(); err != nil {
		logger.Warn("initial rule set load failed, starting with empty rules",
			"path", absPath, "error", err)
	}

	// Watch the directory, not the file: editors and config pushes replace
	// the file via rename, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("ruleset: watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the active snapshot. The returned value is immutable and
// safe to hold for the remainder of a request.
func (p *FileProvider) Current() Snapshot {
	return *p.current.Load()
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow consumers miss intermediate generations rather
// than blocking publication.
func (p *FileProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- *p.current.Load()
	return ch
}

// OnReload registers a callback invoked after each reload attempt with its
// outcome. Used to wire reload counters.
func (p *FileProvider) OnReload(fn func(ok bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReload = fn
}

// Close stops the watcher and releases resources.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				err := p.load()
				p.notifyReload(err == nil)
				if err != nil {
					p.logger.Warn("rule set reload failed, keeping previous generation",
						"path", p.path, "error", err)
					return
				}
				snap := p.current.Load()
				p.logger.Info("rule set reloaded",
					"path", p.path,
					"generation", snap.Generation,
					"suppressed", snap.Config.SuppressedCount(),
					"allowed", snap.Config.AllowedCount(),
				)
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("rule set watcher error", "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	// #nosec G304 -- path is configured at startup
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	spec, err := Parse(data)
	if err != nil {
		return err
	}

	cfg := policy.New(spec.SuppressionPaths, spec.AllowPaths)

	p.mu.Lock()
	p.generation++
	snap := &Snapshot{
		Generation: p.generation,
		ReceivedAt: time.Now(),
		Config:     cfg,
	}
	p.current.Store(snap)
	subscribers := make([]chan Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- *snap:
		default:
		}
	}

	return nil
}

func (p *FileProvider) notifyReload(ok bool) {
	p.mu.Lock()
	fn := p.onReload
	p.mu.Unlock()
	if fn != nil {
		fn(ok)
	}
}

// Parse decodes a rule set document, trying YAML first and falling back to
// JSON to match the controller's push format.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		spec = Spec{}
		if jsonErr := json.Unmarshal(data, &spec); jsonErr != nil {
			return Spec{}, fmt.Errorf("ruleset: parse document: %w", err)
		}
	}
	return spec, nil
}
