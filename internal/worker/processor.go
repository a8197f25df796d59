// Package worker implements the capture pipeline: the per-job processor and
// the bounded-concurrency consumer that feeds it from the broker.
package worker

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/snapshot"
	"github.com/pagelens/pagelens/internal/storage"
)

// Processor executes one capture job: cache check, render, store, status
// transition. Errors surface to the consumer so its acknowledgment policy
// applies; they never crash the consume loop.
type Processor struct {
	cache    snapshot.Cache
	renderer snapshot.Renderer
	status   snapshot.StatusStore
	archive  storage.Provider
	logger   *zap.Logger
}

// NewProcessor constructs a Processor. A nil archive disables mirroring.
func NewProcessor(
	cache snapshot.Cache,
	renderer snapshot.Renderer,
	status snapshot.StatusStore,
	archive storage.Provider,
	logger *zap.Logger,
) *Processor {
	if archive == nil {
		archive = &storage.NoOpProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cache:    cache,
		renderer: renderer,
		status:   status,
		archive:  archive,
		logger:   logger,
	}
}

// Process runs the capture pipeline for one job. A cache hit never invokes
// the renderer; any render or store error marks the job failed and is
// returned to the caller.
func (p *Processor) Process(ctx context.Context, msg snapshot.Message) error {
	logger := p.logger.With(zap.String("job_id", msg.ID), zap.String("url", msg.URL))

	if path, ok := p.cache.Lookup(msg.URL); ok {
		metrics.ObserveCacheLookup(true)
		logger.Info("cache hit, skipping render", zap.String("path", path))
		p.finish(ctx, msg.ID, snapshot.StatusDone, logger)
		return nil
	}
	metrics.ObserveCacheLookup(false)

	tempPath, err := p.renderer.Render(ctx, msg.URL)
	if err != nil {
		p.finish(ctx, msg.ID, snapshot.StatusFail, logger)
		return fmt.Errorf("render: %w", err)
	}

	finalPath, err := p.cache.Store(msg.URL, tempPath)
	if err != nil {
		p.finish(ctx, msg.ID, snapshot.StatusFail, logger)
		return fmt.Errorf("store artifact: %w", err)
	}

	p.archiveArtifact(ctx, msg.URL, finalPath, logger)
	p.finish(ctx, msg.ID, snapshot.StatusDone, logger)
	logger.Info("job processed", zap.String("path", finalPath))
	return nil
}

func (p *Processor) finish(ctx context.Context, id string, status snapshot.Status, logger *zap.Logger) {
	if err := p.status.Transition(ctx, id, status); err != nil {
		logger.Error("status transition failed",
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
}

// archiveArtifact mirrors the cached screenshot to the archive provider.
// The archive is best-effort: failures are logged and never affect the job
// outcome.
func (p *Processor) archiveArtifact(ctx context.Context, url, path string, logger *zap.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("read artifact for archive failed", zap.Error(err))
		return
	}
	if err := p.archive.Save(ctx, snapshot.CacheKey(url), data); err != nil {
		logger.Warn("archive upload failed", zap.Error(err))
	}
}
