package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the configuration whenever the file changes and hands the
// parsed result to onChange. A reload that fails to parse keeps the running
// config.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&fsnotify.Write == fsnotify.Write && filepath.Clean(event.Name) == filepath.Clean(configPath) {
					logger.Info("config file modified, reloading", zap.String("path", configPath))

					newConfig, err := Load(configPath)
					if err != nil {
						logger.Error("failed to reload config", zap.Error(err))
						continue
					}

					onChange(newConfig)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error", zap.Error(err))
			}
		}
	}()

	// Watch the directory, not just the file, so editor rename-and-replace
	// saves are still observed.
	return watcher.Add(filepath.Dir(configPath))
}
