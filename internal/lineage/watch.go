package lineage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linnemanlabs/go-core/log"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a lineage description into a Holder whenever the file
// changes. A failed reload keeps the last good graph.
type Watcher struct {
	path     string
	holder   *Holder
	logger   log.Logger
	debounce time.Duration
	onReload func(*Graph, error)
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook is called after every reload attempt with the new graph or
// the load error.
func WithReloadHook(fn func(*Graph, error)) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher returns a Watcher for path publishing into holder.
func NewWatcher(path string, holder *Holder, logger log.Logger, opts ...WatchOption) *Watcher {
	if logger == nil {
		logger = log.Nop()
	}
	w := &Watcher{
		path:     path,
		holder:   holder,
		logger:   logger,
		debounce: defaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches until ctx is canceled. The parent directory is watched rather
// than the file so editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	w.logger.Info(ctx, "watching lineage description", "path", w.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "lineage watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	g, err := Load(w.path)
	if err != nil {
		w.logger.Error(ctx, err, "lineage reload failed, keeping current graph", "path", w.path)
	} else {
		w.holder.Swap(g)
		w.logger.Info(ctx, "lineage reloaded",
			"path", w.path,
			"nodes", g.NodeCount(),
			"edges", g.EdgeCount(),
			"dashboards", g.DashboardCount(),
		)
	}
	if w.onReload != nil {
		w.onReload(g, err)
	}
}
