//go:build linux

// Command bluewired is the host daemon: it watches the kernel for
// adapter lifecycle changes, applies the configured options to
// adapters as they appear, and exposes them on the system bus.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/helpers/statestore"
	"github.com/bluewire-org/bluetooth-hostd/daemon"
	"github.com/bluewire-org/bluetooth-hostd/linux/dbusreg"
	"github.com/bluewire-org/bluetooth-hostd/linux/hci"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/etc/bluewire/config.yaml", "configuration file")
	stateDir := flag.String("statedir", "/var/lib/bluewire", "adapter state directory")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(log, *configPath, *stateDir); err != nil {
		log.WithError(err).Fatal("Daemon exited")
	}
}

func run(log *logrus.Logger, configPath, stateDir string) error {
	registry := config.NewRegistry()

	loadConfig := func(reg *config.Registry) (config.Settings, error) {
		settings, err := config.Load(configPath, reg)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return config.DefaultSettings(), nil
			}

			return settings, err
		}

		return settings, nil
	}

	settings, err := loadConfig(registry)
	if err != nil {
		return err
	}

	state, err := statestore.New(stateDir)
	if err != nil {
		return err
	}

	channel, err := hci.NewSocket()
	if err != nil {
		return err
	}
	defer channel.Close()

	var registration daemon.Registration

	registrar, err := dbusreg.New()
	if err != nil {
		log.WithError(err).Warn("Running without the bus surface")
	} else {
		defer registrar.Close()
		registration = registrar
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "noname"
	}

	d := daemon.New(daemon.Options{
		Registry:     registry,
		Transport:    hci.NewTransport(),
		Channel:      channel,
		Registration: registration,
		State:        state,
		LoadConfig:   loadConfig,
		Settings:     settings,
		Hostname:     hostname,
		Log:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			d.Reload()
		}
	}()

	if watcher := watchConfig(log, configPath, d.Reload); watcher != nil {
		defer watcher.Close()
	}

	log.Info("Daemon starting")

	if err := d.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

// watchConfig schedules a reload whenever the configuration file is
// rewritten. Editors replace the file rather than writing in place, so
// the watch covers the containing directory. A missing directory only
// disables the watch.
func watchConfig(log *logrus.Logger, path string, reload func()) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("Cannot watch configuration")
		return nil
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).Warn("Cannot watch configuration directory")
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}

				if ev.Name == path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					reload()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				log.WithError(err).Warn("Configuration watch error")
			}
		}
	}()

	return watcher
}
