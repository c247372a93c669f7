// Package main implements libreeye, the camera-recording daemon.
//
// libreeye has two faces, selected by argv[0]'s remaining arguments:
//
//   - Normal invocation starts the supervisor: it loads every configured
//     camera and storage backend, spawns one pipeline child per camera,
//     serves the control socket, and runs the retention/watchdog
//     schedule until terminated.
//   - "libreeye __pipeline__ <camera>" is the hidden child mode a running
//     supervisor re-execs itself into (see internal/procsup.PipelineArg):
//     it runs exactly one camera's record loop and exits when asked to
//     stop or when its retry budget is exhausted.
//
// Usage:
//
//	libreeye [options]
//
// Options:
//
//	--config-root=PATH  Directory holding libreeye.conf/storage.conf/cameras.d (default: /etc/libreeye)
//	--log-level=LEVEL   Log level: debug, info, warn, error (default: info)
//	--help              Show this help message
//
// The daemon automatically:
//   - Loads cameras.d/*.conf and starts one pipeline per camera
//   - Restarts a crashed pipeline via its supervision tree
//   - Sweeps expired recordings on a daily schedule
//   - Handles SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/config"
	"github.com/chponte/libreeye/internal/pipeline"
	"github.com/chponte/libreeye/internal/procsup"
	"github.com/chponte/libreeye/internal/sink"
	"github.com/chponte/libreeye/internal/supervisor"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configRoot = flag.String("config-root", config.DefaultConfigRoot, "Directory holding libreeye.conf/storage.conf/cameras.d")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == procsup.PipelineArg {
		runPipelineChild(os.Args[2:])
		return
	}

	flag.Parse()
	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("libreeye starting", "version", Version, "commit", Commit, "built", BuildTime, "config_root", *configRoot)

	if os.Geteuid() != 0 {
		logger.Error("libreeye must be run as root")
		os.Exit(int(syscall.EPERM))
	}

	// Re-exec'd pipeline children inherit the parent's environment (procsup
	// leaves exec.Cmd.Env nil), so pinning the config root here is how a
	// child finds the same files the supervisor itself loaded rather than
	// falling back to the --config-root default.
	_ = os.Setenv("LIBREEYE_CONFIG_ROOT", *configRoot)
	_ = os.Setenv("LIBREEYE_LOG_LEVEL", *logLevel)

	cfg, err := config.LoadConfig(*configRoot)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		if errors.Is(err, fs.ErrNotExist) {
			os.Exit(int(syscall.ENOENT))
		}
		os.Exit(int(syscall.EINVAL))
	}
	logger.Info("configuration loaded", "cameras", len(cfg.Cameras), "storage_backends", len(cfg.Storage))

	sup := supervisor.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runPipelineChild is the hidden __pipeline__ entrypoint a running
// supervisor re-execs itself into. It loads the full configuration,
// selects the one camera named on the command line, and runs its
// CameraPipeline until ctx is cancelled (SIGTERM from the supervisor's
// Process.Stop) or its retry budget is exhausted.
func runPipelineChild(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "libreeye __pipeline__: expected exactly one camera name argument")
		os.Exit(2)
	}
	name := args[0]

	logger := newLogger(os.Getenv("LIBREEYE_LOG_LEVEL"))

	cfg, err := config.LoadConfig(configRootFromEnv())
	if err != nil {
		logger.Error("pipeline child: failed to load configuration", "camera", name, "error", err)
		os.Exit(1)
	}

	var d *camera.Descriptor
	for _, cand := range cfg.Cameras {
		if cand.Name == name {
			d = cand
			break
		}
	}
	if d == nil {
		logger.Error("pipeline child: unknown camera", "camera", name)
		os.Exit(1)
	}

	sinks := make(map[string]sink.Sink, len(d.Sinks))
	storages := make(map[string]*camera.Storage, len(d.Sinks))
	for _, sinkName := range d.Sinks {
		st, ok := cfg.Storage[sinkName]
		if !ok {
			logger.Error("pipeline child: camera references unknown storage", "camera", name, "storage", sinkName)
			os.Exit(1)
		}
		root := st.RootPath
		if st.Kind == camera.StorageKindLocal {
			root = filepath.Join(st.RootPath, name)
		}
		sk, err := pipeline.BuildSink(sinkName, st, root)
		if err != nil {
			logger.Error("pipeline child: failed to build sink", "camera", name, "storage", sinkName, "error", err)
			os.Exit(1)
		}
		sinks[sinkName] = sk
		storages[sinkName] = st
	}

	stderrLog, err := pipeline.NewRotatingWriter(filepath.Join(cfg.LogDir, name+"-transcoder.log"))
	if err != nil {
		logger.Error("pipeline child: failed to open transcoder log", "camera", name, "error", err)
		os.Exit(1)
	}

	pl := pipeline.New(pipeline.Config{
		Camera:     d,
		Sinks:      sinks,
		Storage:    storages,
		Transcoder: pipeline.DefaultTranscoder,
		Logger:     logger,
		StderrLog:  stderrLog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := pl.Run(ctx); err != nil {
		logger.Error("pipeline child exiting with error", "camera", name, "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline child exiting cleanly", "camera", name)
}

// configRootFromEnv lets the supervisor pin the child to the exact config
// root it itself loaded, overriding the --config-root default, since the
// re-exec'd child does not inherit parsed flags.
func configRootFromEnv() string {
	if v := os.Getenv("LIBREEYE_CONFIG_ROOT"); v != "" {
		return v
	}
	return config.DefaultConfigRoot
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Println("libreeye - camera-recording daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: libreeye [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon records RTSP cameras to local disk, object storage, or a")
	fmt.Println("broadcast endpoint, and sweeps expired recordings on a daily schedule.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
