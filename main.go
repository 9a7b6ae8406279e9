// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"io"
	"locator/cmd"
	"locator/internal/audio"
	"locator/internal/config"
	applog "locator/internal/log"
	"locator/internal/server"
	"locator/internal/tdoa"
	"locator/internal/transport"
	"locator/internal/transport/udp"
	"locator/internal/tui"
	"locator/pkg/build"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const shutdownTimeout = 5 * time.Second

// main is the entry point for the locator.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands (list, version, analyze)
//
// 2. Concurrent Phase (Hot Path):
//   - Capture callback ingests every mapped channel
//   - Runner ticks the engine and fans snapshots out to transports
//   - UDP publisher and HTTP API read the latest snapshot
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop capture and finalize any recording
//   - Stop publishers and servers
func main() {
	if err := execute(os.Args[1:]); err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
}

func execute(args []string) error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: Development build: %v", err)
	}

	opts, err := cmd.ParseArgs(args)
	if err != nil {
		return err
	}

	switch opts.Command {
	case "":
		return nil
	case cmd.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return nil
	case cmd.CommandList:
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
		return audio.ListDevices(os.Stdout)
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.Apply(cfg)
	configureLogging(cfg)

	if opts.Command == cmd.CommandAnalyze {
		return analyzeFile(cfg, opts.File, os.Stdout, opts.JSON)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return run(cfg, opts.TUI)
}

func configureLogging(cfg *config.Config) {
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		level = applog.LevelInfo
	}
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
}

// run captures live audio until SIGINT or SIGTERM, or until the user quits
// the monitor when monitor is set.
func run(cfg *config.Config, monitor bool) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engine := tdoa.NewEngine(ec)
	engine.RegisterPairs(cfg.ResolvedPairs())

	input, err := audio.NewInput(cfg.InputConfig(), engine)
	if err != nil {
		return err
	}

	var (
		sinks []tdoa.Sink
		svc   services
		ws    *transport.WebSocketTransport
	)
	// Everything created from here on is released on every return path.
	defer svc.close()

	if cfg.Transport.LogResults {
		lt := transport.NewLoggingTransport()
		sinks = append(sinks, lt)
		svc.closers = append(svc.closers, lt)
	}
	if cfg.Transport.WebSocketEnabled {
		ws = transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		sinks = append(sinks, ws)
		svc.closers = append(svc.closers, ws)
	}

	if cfg.Server.Enabled {
		instance := uuid.NewString()
		srvOpts := server.Options{Version: build.GetBuildFlags().Version, InstanceID: instance}
		if ws != nil {
			srvOpts.Clients = ws.ClientCount
		}
		svc.srv = server.New(cfg.Server.Address, engine, srvOpts)
		sinks = append(sinks, svc.srv.Hub())
		applog.Infof("Server: Instance %s", instance)
	}

	svc.runner, err = tdoa.NewRunner(cfg.TDOA.TickInterval, engine, sinks...)
	if err != nil {
		return err
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		svc.publisher, err = udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, engine)
		if err != nil {
			sender.Close()
			return err
		}
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The first Start triggers PortAudio to begin calling the capture
	// callback.
	if err := input.Start(); err != nil {
		return err
	}

	var recording string
	if cfg.Recording.Enabled {
		recording = recordingPath(cfg.Recording, time.Now())
		if err := os.MkdirAll(filepath.Dir(recording), 0o755); err != nil {
			input.Close()
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
		if err := input.StartRecording(recording, cfg.Recording.BitDepth); err != nil {
			input.Close()
			return err
		}
		applog.Infof("Recording to %s", recording)
	}

	svc.start()
	applog.Infof("Locating %d pairs over %d sources. Press Ctrl+C to stop.",
		len(engine.Pairs()), len(cfg.ResolvedSources()))

	if monitor {
		// The monitor owns the terminal while it runs.
		applog.SetOutput(io.Discard)
		err := tui.Run(engine, tui.DefaultRefresh)
		applog.SetOutput(os.Stderr)
		if err != nil {
			applog.Errorf("Monitor: %v", err)
		}
	} else {
		<-ctx.Done()
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := input.Close(); err != nil {
		applog.Errorf("Error closing input: %v", err)
	}
	if recording != "" {
		if n := input.WriteFailures(); n > 0 {
			applog.Warnf("Recording had %d failed writes", n)
		}
		fmt.Printf("\nRecording saved to: %s\n", recording)
	}
	// svc.close runs on return.
	return nil
}

// services are the collaborators run builds around the engine. Any field
// may be nil.
type services struct {
	runner    *tdoa.Runner
	publisher *udp.Publisher
	closers   []io.Closer
	srv       *server.Server
	serving   chan struct{} // closed when the server goroutine returns
}

// start begins ticking, publishing and serving.
func (s *services) start() {
	if s.runner != nil {
		s.runner.Start()
	}
	if s.publisher != nil {
		s.publisher.Start()
	}
	if s.srv != nil {
		s.serving = make(chan struct{})
		go func() {
			defer close(s.serving)
			if err := s.srv.Start(); err != nil {
				applog.Errorf("Server: %v", err)
			}
		}()
	}
}

// close stops and releases whatever was created, started or not. It is
// safe to call more than once.
func (s *services) close() {
	if s.runner != nil {
		if err := s.runner.Close(); err != nil {
			applog.Errorf("Error stopping runner: %v", err)
		}
		s.runner = nil
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			applog.Errorf("Error closing UDP publisher: %v", err)
		}
		s.publisher = nil
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			applog.Errorf("Error closing %T: %v", c, err)
		}
	}
	s.closers = nil
	if s.srv != nil {
		if s.serving != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				applog.Errorf("Error shutting down server: %v", err)
			}
			cancel()
		} else {
			s.srv.Hub().Close()
		}
		s.srv = nil
	}
}

// recordingPath returns the configured file, or a timestamped name in the
// output directory.
func recordingPath(rc config.RecordingConfig, now time.Time) string {
	if rc.OutputFile != "" {
		return rc.OutputFile
	}
	return audio.RecordingFilename(rc.OutputDir, now)
}
