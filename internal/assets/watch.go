package assets

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/logger"
)

// Watcher reports changes to one local asset file.
type Watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// WatchFile calls onChange after the file behind rawURL is written or replaced.
// Bursts of events within debounce collapse into one call. onChange runs on the watcher goroutine.
func WatchFile(rawURL string, debounce time.Duration, onChange func(), log *zap.Logger) (*Watcher, error) {
	log = logger.OrNop(log, "assets")
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return nil, fmt.Errorf("%w: cannot watch %q", ErrUnsupportedScheme, u.Scheme)
	}
	path, err := filepath.Abs(LocalPath(u))
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fs: fw, done: make(chan struct{})}
	go w.run(path, debounce, onChange, log)
	return w, nil
}

func (w *Watcher) run(path string, debounce time.Duration, onChange func(), log *zap.Logger) {
	defer close(w.done)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			log.Debug("asset changed", zap.String("path", path), zap.Stringer("op", ev.Op))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, onChange)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("asset watch error", zap.Error(err))
		}
	}
}

// Close stops watching and waits for the watcher goroutine.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
