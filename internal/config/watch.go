package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"maintwatch/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second

	relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

var errWatcherClosed = errors.New("watcher closed")

// debouncer runs fn once d after the last trigger.
type debouncer struct {
	mu sync.Mutex
	d  time.Duration
	fn func()
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.d, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

// Watch follows the config file until ctx ends. The directory is watched so
// editors that replace the file on save are handled. A failing watcher is
// recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	deb := &debouncer{d: m.debounce, fn: func() { m.reload(ctx) }}
	defer deb.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		started, err := m.watchOnce(ctx, deb)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			retry = watchRetryMin
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Err(err))

		wait := retry + time.Duration(rand.Int64N(int64(retry/2)+1))
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher. started reports whether it got as
// far as watching the directory.
func (m *Manager) watchOnce(ctx context.Context, deb *debouncer) (started bool, err error) {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errWatcherClosed
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				deb.trigger()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errWatcherClosed
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				deb.trigger()
				continue
			}
			if werr != nil {
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(werr))
			}
		}
	}
}
