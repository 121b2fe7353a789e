package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modoterra/logtap/internal/buildinfo"
	"github.com/modoterra/logtap/pkg/config"
	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/daemon"
	"github.com/modoterra/logtap/pkg/sources/docker"
	"github.com/modoterra/logtap/pkg/sources/filetail"
	"github.com/modoterra/logtap/pkg/sources/journal"
	"github.com/modoterra/logtap/pkg/sources/procpipe"
)

const defaultSocket = "/tmp/logtapd.sock"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("logtapd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	d := daemon.New(defaultSocket, buildinfo.Version, logger)
	defer d.Shutdown()

	// Exec processes run under the supervisor; their pipes are the streams.
	supervisor := procpipe.NewSupervisor(ctx, logger)
	execSource := procpipe.NewSource(supervisor, logger)

	journalSource := journal.New(logger)
	fileSource := filetail.New(logger)

	dockerSource, err := docker.New(logger)
	if err != nil {
		logger.Warn("docker unavailable", "err", err)
		dockerSource = nil
	}

	// Try to load config from CWD
	configPath := "logtap.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	if c, err := config.Load(configPath); err == nil {
		if errs := config.Validate(c); len(errs) == 0 {
			logger.Info("config loaded", "path", configPath, "resources", len(c.Resources))

			for name, entry := range c.Resources {
				res := entry.CoreResource(name)
				switch res.Kind {
				case core.KindSystemd:
					journalSource.AddUnit(res)
				case core.KindExec:
					if res.Restart == "" {
						res.Restart = string(core.RestartOnFailure)
					}
					execSource.AddProcess(res)
				case core.KindContainer:
					if dockerSource == nil {
						logger.Warn("skipping container resource, docker unavailable", "name", name)
						continue
					}
					dockerSource.AddContainer(res)
				case core.KindFile:
					fileSource.AddFile(res)
				}
				d.AddResource(res)
			}

			// Auto-import compose services
			if c.Compose != nil && c.Compose.File != "" && dockerSource != nil {
				cf, err := docker.ParseComposeFile(c.Compose.File)
				if err == nil {
					existing := make(map[string]bool)
					for name, entry := range c.Resources {
						if entry.Kind == string(core.KindContainer) {
							existing[name] = true
						}
					}
					for _, res := range docker.AutoImport(cf, existing, c.Project) {
						dockerSource.AddContainer(res)
						d.AddResource(res)
					}
				} else {
					logger.Warn("compose parse failed", "file", c.Compose.File, "err", err)
				}
			}
		} else {
			for _, e := range errs {
				logger.Warn("config validation", "err", e)
			}
		}
	} else {
		logger.Info("no config loaded", "path", configPath, "err", err)
	}

	// Register sources
	d.AddSource(core.KindSystemd, journalSource)
	d.AddSource(core.KindExec, execSource)
	d.AddSource(core.KindFile, fileSource)
	if dockerSource != nil {
		d.AddSource(core.KindContainer, dockerSource)

		verCtx, verCancel := context.WithTimeout(ctx, 5*time.Second)
		if v, err := dockerSource.PlatformVersion(verCtx); err == nil {
			d.SetPlatformVersion(v)
			logger.Info("container platform detected", "api_version", v)
		} else {
			logger.Warn("container platform version unknown", "err", err)
		}
		verCancel()
	}

	// Start supervised processes
	supervisor.StartAll()
	defer supervisor.StopAll()

	// Start watch loop
	watchLoop := daemon.NewWatchLoop(d, 2*time.Second, logger)
	go watchLoop.Run(ctx)

	logger.Info("starting logtapd", "version", buildinfo.Version)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		os.Exit(1)
	}
}
