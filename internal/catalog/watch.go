package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/events"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a catalog when its file changes. The parent directory is
// watched so editors that save by rename are picked up.
type Watcher struct {
	path     string
	cat      *Catalog
	fs       *fsnotify.Watcher
	log      zerolog.Logger
	debounce time.Duration

	// OnReload, if set, runs after each successful reload.
	OnReload func(*Catalog)

	once sync.Once
}

// NewWatcher starts watching path for changes to feed into cat.
func NewWatcher(cat *Catalog, path string, log zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		cat:      cat,
		fs:       fw,
		log:      log.With().Str("component", "catalog").Logger(),
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() { err = w.fs.Close() })
	return err
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	var pending <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("catalog watch error")
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("catalog reload failed")
		events.Emit("error", "catalog.error", "catalog reload failed", map[string]interface{}{
			"path":  w.path,
			"error": err.Error(),
		})
		return
	}

	w.cat.Replace(next)
	w.log.Info().Int("scenes", next.Len()).Msg("catalog reloaded")
	events.Emit("info", "catalog.loaded", "", map[string]interface{}{
		"path":   w.path,
		"scenes": next.Len(),
		"reload": true,
	})
	if w.OnReload != nil {
		w.OnReload(w.cat)
	}
}
