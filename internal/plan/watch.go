package plan

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts an fsnotify watcher on the plan file's directory and calls
// ReloadIfChanged whenever the file is written. Returns a stop function.
// Errors from ReloadIfChanged are logged and do not stop the watch loop,
// so the previous plan remains active (per spec §7's propagation policy).
func (s *Store) Watch(logger *zap.SugaredLogger) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if _, err := s.ReloadIfChanged(); err != nil {
					logger.Errorw("plan reload failed, keeping previous plan active", "error", err)
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Errorw("plan watcher error", "error", watchErr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
