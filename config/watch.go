package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dsched/registry"
	"dsched/utils"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type watchOptions struct {
	debounce time.Duration
}

type WatchOption func(o *watchOptions)

// WithDebounce sets how long the file has to stay quiet before it is
// reloaded. Defaults to 250ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		o.debounce = d
	}
}

// Watch reloads the schedule file at path whenever it changes and hands the
// entries to apply. Unparsable files and files whose content did not
// change are skipped. It blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, apply func(context.Context, []registry.Entry) error,
	funcOptions ...WatchOption) error {
	op := &watchOptions{debounce: 250 * time.Millisecond}
	for _, f := range funcOptions {
		f(op)
	}

	dir, file := filepath.Dir(path), filepath.Base(path)
	last, _ := os.ReadFile(path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		mu.Lock()
		defer mu.Unlock()

		b, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("[Config] read schedule", zap.String("path", path), zap.Error(err))
			return
		}
		if bytes.Equal(b, last) {
			return
		}
		entries, err := ParseSchedule(b)
		if err != nil {
			logger.Warn("[Config] schedule rejected", zap.String("path", path), zap.Error(err))
			return
		}
		if err := apply(ctx, entries); err != nil {
			logger.Warn("[Config] schedule not applied", zap.String("path", path), zap.Error(err))
			return
		}
		last = b
		logger.Info("[Config] schedule reloaded", zap.String("path", path), zap.Int("entries", len(entries)))
	}
	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(op.debounce, reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	backoff := utils.NewBackoff(250*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := watchOnce(ctx, dir, file, debounce, logger)
		if err == nil {
			backoff.Reset()
		} else {
			logger.Warn("[Config] watcher failed", zap.String("dir", dir), zap.Error(err))
		}

		// the watcher broke, recreate it
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff.Next()):
		}
	}
}

// watchOnce runs one fsnotify watcher on dir until it breaks or ctx is
// done. Editors replace files by renaming, so the directory is watched
// rather than the file.
func watchOnce(ctx context.Context, dir, file string, changed func(), logger *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Debug("[Config] watching", zap.String("dir", dir), zap.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost, reload to be safe
				changed()
				continue
			}
			return err
		}
	}
}
