package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config at path every time it is written and hands the
// result, or the error loading it, to onChange. It blocks until ctx is done
// or the watcher fails.
//
// The directory is watched rather than the file itself so that editors which
// save by renaming a temporary file are still picked up.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error starting new file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("unable to watch config directory of %s: %w", path, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed events channel")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange(Load(path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed errors channel")
			}
			return fmt.Errorf("file watcher caught error: %w", err)
		}
	}
}
