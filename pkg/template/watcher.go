package template

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches a template file and reloads it on change.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewWatcher creates a template file watcher.
func NewWatcher(loader *Loader, logger zerolog.Logger) *Watcher {
	return &Watcher{
		loader: loader,
		logger: logger.With().Str("component", "template-watcher").Logger(),
	}
}

// Watch starts watching the template file and invokes reloadFn with the
// freshly parsed template after each change. Reloads are debounced; a
// template that fails to parse is logged and skipped, keeping the previous
// one in effect. Watch returns immediately; watching stops when ctx is
// cancelled.
func (w *Watcher) Watch(ctx context.Context, path string, reloadFn func(*Template) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w.watcher = watcher
	go w.processEvents(ctx, path, reloadFn)

	w.logger.Info().Str("path", path).Msg("Started watching template")

	return nil
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context, path string, reloadFn func(*Template) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Template file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := w.triggerReload(ctx, path, reloadFn); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload template")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads the template and hands it to the callback.
func (w *Watcher) triggerReload(ctx context.Context, path string, reloadFn func(*Template) error) error {
	tpl, err := w.loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to reload template: %w", err)
	}

	if err := reloadFn(tpl); err != nil {
		return fmt.Errorf("failed to apply reloaded template: %w", err)
	}

	w.logger.Info().Str("template", tpl.Metadata.Name).Msg("Template reloaded")

	return nil
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
