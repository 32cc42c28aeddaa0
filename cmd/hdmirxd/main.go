package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sumirjha/hdmirx/internal/api"
	"github.com/sumirjha/hdmirx/internal/config"
	"github.com/sumirjha/hdmirx/internal/control"
	"github.com/sumirjha/hdmirx/internal/core"
	"github.com/sumirjha/hdmirx/internal/emitter"
)

const defaultConfigPath = "configs/hdmirx.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	var level slog.LevelVar
	if lvl, err := cfg.Log.SlogLevel(); err == nil {
		level.Set(lvl)
	}
	if *debug {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(newHandler(os.Stdout, cfg.Log.Format, &level)))

	slog.Info("starting hdmirx service",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"debug", *debug,
	)

	if err := run(*configPath, cfg, &level); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("hdmirx service stopped successfully")
}

func newHandler(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// run wires every component, blocks until a signal, a shutdown command or a
// pipeline failure, then tears down within the shutdown timeout.
func run(configPath string, cfg *config.Config, level *slog.LevelVar) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	watcher, err := config.NewWatcher(configPath, cfg, level)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		watcher.Start()
		defer watcher.Close()
	}

	comps, err := core.Build(cfg)
	if err != nil {
		return err
	}

	var em *emitter.Emitter
	comps.Options.OnConnection = func(ev core.ConnectionEvent) {
		if em != nil {
			em.Event(ev)
		}
	}
	streamer, err := core.New(comps.Options)
	if err != nil {
		comps.Close()
		return err
	}

	var server *api.Server
	if cfg.API.Listen != "" {
		opts := api.Options{
			Listen: cfg.API.Listen,
			Status: streamer,
			Kicker: streamer,
		}
		if comps.WebSocket != nil {
			opts.WebSocketPath = cfg.Network.WebSocketPath
			opts.WebSocket = comps.WebSocket
		}
		server = api.NewServer(opts)
		if err := server.Start(); err != nil {
			comps.Close()
			return err
		}
	}

	shutdownReq := make(chan struct{}, 1)
	var (
		client  mqtt.Client
		handler *control.Handler
	)
	if cfg.MQTT.Broker != "" {
		client, err = emitter.Connect(ctx, cfg.MQTT)
		if err != nil {
			slog.Error("mqtt unavailable, telemetry and control disabled", "error", err)
		} else {
			em = emitter.New(client, cfg.MQTT, streamer)
			em.Start(ctx)

			handler = control.NewHandler(cfg.MQTT, client, control.CommandCallbacks{
				OnGetStatus: func() any { return streamer.Status() },
				OnKick:      streamer.Kick,
				OnShutdown: func() {
					select {
					case shutdownReq <- struct{}{}:
					default:
					}
				},
			})
			if err := handler.Start(ctx); err != nil {
				slog.Error("control plane disabled", "error", err)
				handler = nil
			}
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- streamer.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-shutdownReq:
		slog.Info("shutdown requested via control plane")
	case runErr = <-errChan:
		errChan = nil
	}

	timeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()
	if errChan != nil {
		select {
		case runErr = <-errChan:
		case <-shutdownCtx.Done():
			runErr = errors.New("streamer did not stop within shutdown timeout")
		}
	}

	if handler != nil {
		handler.Stop()
	}
	if em != nil {
		em.Stop()
	}
	if client != nil {
		client.Disconnect(250)
	}
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			slog.Warn("api shutdown", "error", err)
		}
	}
	return runErr
}
