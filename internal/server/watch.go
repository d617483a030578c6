package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watcher reports settled changes to a single file. It watches the parent
// directory because atomic saves replace the file by rename.
type watcher struct {
	fs       *fsnotify.Watcher
	target   string
	debounce time.Duration
	onChange func()
	log      zerolog.Logger

	pending time.Time
}

func newWatcher(path string, debounce time.Duration, onChange func(), log zerolog.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &watcher{
		fs:       fw,
		target:   filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		log:      log,
	}, nil
}

// run delivers events until ctx is cancelled, then closes the watcher.
func (w *watcher) run(ctx context.Context) {
	defer w.fs.Close()

	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("ledger watcher error")

		case now := <-ticker.C:
			if !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce {
				w.pending = time.Time{}
				w.onChange()
			}
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.target {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.log.Debug().Str("op", ev.Op.String()).Msg("ledger file event")
	w.pending = time.Now()
}
