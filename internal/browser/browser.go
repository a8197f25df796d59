// Package browser owns the lifecycle of the single headless Chrome instance
// used for rendering: lazy start, serialized use, idle-timeout shutdown and
// restart on demand.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/snapshot"
)

// Config controls the managed browser resource.
type Config struct {
	// UserAgent is the spoofed desktop user agent applied to every page.
	UserAgent string
	// NavigationTimeout bounds a single page load and capture.
	NavigationTimeout time.Duration
	// IdleTimeout is how long the browser may sit unused before the idle
	// monitor tears it down.
	IdleTimeout time.Duration
	// IdleCheckInterval is how often the idle monitor wakes.
	IdleCheckInterval time.Duration
	// Quality is the screenshot compression quality (1-100).
	Quality int
	// StagingDir receives temporary artifacts. It must share a filesystem
	// with the cache directory for the later rename to be atomic.
	StagingDir string
}

// session is one live browser instance. launchChromedp builds the real one;
// tests substitute a fake through the launch hook.
type session interface {
	render(ctx context.Context, url string) ([]byte, error)
	close() error
}

type launchFunc func(cfg Config) (session, error)

// Browser manages at most one live headless browser instance. A single
// mutex guards start, stop and render: the shared browsing context is not
// safe under simultaneous navigations, so render is a critical section.
type Browser struct {
	cfg    Config
	clock  snapshot.Clock
	logger *zap.Logger
	launch launchFunc

	mu       sync.Mutex
	sess     session
	running  bool
	lastUsed time.Time
	idleStop chan struct{}
}

// New constructs a Browser. The instance is not started until the first
// render or an explicit EnsureStarted call.
func New(cfg Config, clock snapshot.Clock, logger *zap.Logger) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.IdleCheckInterval <= 0 {
		cfg.IdleCheckInterval = 30 * time.Second
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		launch: launchChromedp,
	}
}

// EnsureStarted starts the browser if it is not already running. Concurrent
// callers block on the mutex until the single start sequence completes, so a
// second instance can never be launched. A start failure is returned to the
// caller and the next invocation re-attempts the start.
func (b *Browser) EnsureStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked()
}

func (b *Browser) startLocked() error {
	if b.running {
		return nil
	}
	b.logger.Info("starting browser", zap.String("user_agent", b.cfg.UserAgent))
	sess, err := b.launch(b.cfg)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	b.sess = sess
	b.running = true
	b.lastUsed = b.clock.Now()
	metrics.ObserveBrowserStart()

	stop := make(chan struct{})
	b.idleStop = stop
	go b.idleLoop(stop)
	return nil
}

// Render captures a full-page screenshot of url into the staging directory
// and returns the temporary artifact path. The resource is started if
// needed. Render calls are mutually exclusive at the resource level.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.startLocked(); err != nil {
		return "", err
	}
	b.lastUsed = b.clock.Now()

	start := time.Now()
	img, err := b.sess.render(ctx, url)
	metrics.ObserveRender(err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	b.lastUsed = b.clock.Now()

	tempPath := filepath.Join(b.cfg.StagingDir, snapshot.CacheKey(url))
	if err := os.WriteFile(tempPath, img, 0o600); err != nil {
		return "", fmt.Errorf("write temporary artifact: %w", err)
	}
	return tempPath, nil
}

// Stop tears down the browsing context, the browser process and the
// underlying driver. It is idempotent and teardown errors are logged, never
// propagated; the idle monitor is cancelled and re-armed on the next start.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Browser) stopLocked() {
	if !b.running {
		return
	}
	if b.idleStop != nil {
		close(b.idleStop)
		b.idleStop = nil
	}
	b.logger.Info("stopping browser")
	if err := b.sess.close(); err != nil {
		b.logger.Warn("browser teardown error", zap.Error(err))
	}
	b.sess = nil
	b.running = false
}

// Running reports whether a live browser instance exists.
func (b *Browser) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// idleLoop wakes every check interval and stops the resource once it has
// been unused for longer than the idle threshold. The loop exits after a
// shutdown (its own or an external Stop); a fresh loop is started when the
// resource next starts.
func (b *Browser) idleLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(b.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.running && b.clock.Now().Sub(b.lastUsed) > b.cfg.IdleTimeout {
				b.logger.Info("browser idle, shutting down",
					zap.Duration("idle_timeout", b.cfg.IdleTimeout))
				metrics.ObserveIdleShutdown()
				b.stopLocked()
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
		}
	}
}
