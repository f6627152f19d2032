package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/ReOpsIL/cai-sub000/internal/logging"
)

// WatchCmd watches the configuration file for changes and logs each
// event. Configuration is read once at startup by every other command;
// this exists for operators who want a signal to know when a restart
// is due, not for live reload.
type WatchCmd struct{}

func (c *WatchCmd) Run(cli *CLI) error {
	logger := logging.Get()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(cli.Config); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("watching configuration file for changes", "path", cli.Config)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			logger.Info("configuration file changed", "path", event.Name, "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-sigCh:
			return nil
		}
	}
}
