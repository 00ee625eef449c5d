package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"shutterbrainz/internal/prefs"
	"shutterbrainz/internal/saver"
	"shutterbrainz/internal/session"
	"shutterbrainz/internal/storage"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("ShutterBrainz v%s\n", version)
	fmt.Println("Camera session controller daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  shutterbrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that owns a camera device and runs a still-capture session:")
	fmt.Println("  focus, capture, zoom, burst and bracketing sequences, asynchronous")
	fmt.Println("  saving with thumbnails, and persisted preferences. Controlled from")
	fmt.Println("  shutter/zoom keys (Linux input devices), a Unix socket and a state")
	fmt.Println("  WebSocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags below override file values)")
	fmt.Println()
	fmt.Println("  -camera-driver string")
	fmt.Printf("        Camera driver: %s|%s (default %q)\n", driverSimulated, driverV4L2, driverSimulated)
	fmt.Println()
	fmt.Println("  -camera-id int")
	fmt.Println("        Camera id (default 0)")
	fmt.Println()
	fmt.Println("  -camera-device string")
	fmt.Println("        V4L2 capture node (default \"/dev/video0\")")
	fmt.Println()
	fmt.Println("  -storage-dir string")
	fmt.Println("        Directory for captured pictures (default \"~/Pictures/shutterbrainz\")")
	fmt.Println()
	fmt.Println("  -prefs-file string")
	fmt.Println("        Preference file, .yaml or .toml (default \"~/.config/shutterbrainz/preferences.yaml\")")
	fmt.Println()
	fmt.Println("  -prefs-watch")
	fmt.Println("        Apply external edits of the preference file (default true)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device with camera keys (empty disables key input)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/shutterbrainz.sock\")")
	fmt.Println()
	fmt.Println("  -state-ws-port int")
	fmt.Println("        State WebSocket port, 0 disables (default 3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Try it out without hardware")
	fmt.Println("  shutterbrainz -storage-dir /tmp/shots")
	fmt.Println()
	fmt.Println("  # UVC webcam with a shutter remote")
	fmt.Println("  shutterbrainz -camera-driver v4l2 -camera-device /dev/video2 -input-device /dev/input/event5")
	fmt.Println()
	fmt.Println("  # Take a picture from a script")
	fmt.Println("  shutter-ctl click")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - Requires access to the capture node for v4l2 (add user to 'video' group)")
	fmt.Println()
}

func main() {
	// Check for version/help early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		cameraDriver = flag.String("camera-driver", driverSimulated, "Camera driver: simulated|v4l2")
		cameraID     = flag.Int("camera-id", 0, "Camera id")
		cameraDevice = flag.String("camera-device", "/dev/video0", "V4L2 capture node")
		storageDir   = flag.String("storage-dir", "~/Pictures/shutterbrainz", "Directory for captured pictures")
		prefsFile    = flag.String("prefs-file", "~/.config/shutterbrainz/preferences.yaml", "Preference file (.yaml or .toml)")
		prefsWatch   = flag.Bool("prefs-watch", true, "Apply external edits of the preference file")
		inputDevice  = flag.String("input-device", "", "Linux input event device with camera keys")
		ipcSocket    = flag.String("ipc-socket", "/tmp/shutterbrainz.sock", "Unix domain socket path for IPC")
		stateWSPort  = flag.Int("state-ws-port", 3002, "State WebSocket port (0 disables)")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_            = flag.Bool("version", false, "Print version and exit")
		_            = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only explicitly set flags override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera-driver":
			o.CameraDriver = cameraDriver
		case "camera-id":
			o.CameraID = cameraID
		case "camera-device":
			o.CameraDevice = cameraDevice
		case "storage-dir":
			o.StorageDir = storageDir
		case "prefs-file":
			o.PrefsFile = prefsFile
		case "prefs-watch":
			o.PrefsWatch = prefsWatch
		case "input-device":
			o.InputDevice = inputDevice
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "state-ws-port":
			o.StateWSPort = stateWSPort
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel, os.Stdout)

	logger.Debug("starting shutterbrainz", "version", version)
	logger.Debug("configuration",
		"camera_driver", cfg.Camera.Driver,
		"camera_id", cfg.Camera.ID,
		"camera_device", cfg.Camera.Device,
		"size", fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height),
		"storage_dir", cfg.Storage.Dir,
		"saver_queue_limit", cfg.Saver.QueueLimit,
		"prefs_file", cfg.Preferences.File,
		"prefs_watch", cfg.Preferences.Watch,
		"input_devices", cfg.Input.Devices,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_port", cfg.StateWS.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, logger); err != nil {
		logger.Error("shutterbrainz stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// run wires the daemon and blocks until ctx is canceled or a component fails.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.ToStorageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	prefsPath := ExpandPath(cfg.Preferences.File)
	// The watcher needs the directory even before the first Set creates the file.
	if err := os.MkdirAll(filepath.Dir(prefsPath), 0755); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}
	pf, err := prefs.Open(prefsPath, logger.With("component", "prefs"))
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}

	opener, err := newCameraOpener(cfg, logger.With("component", "camera"))
	if err != nil {
		return err
	}

	// Central action bus: keys, IPC, preference watcher, WS snapshot requests.
	actions := make(chan session.Event, 64)

	var (
		notifier session.Notifier = session.NopNotifier{}
		wsNotif  *wsNotifier
	)
	if cfg.StateWS.Port > 0 {
		wsNotif = newWSNotifier(256, logger.With("component", "ws"))
		notifier = wsNotif
	}

	var ctrl *session.Controller
	sv := saver.New(
		saver.Config{QueueLimit: cfg.Saver.QueueLimit},
		store,
		saver.JPEGThumbnailer{Quality: 80},
		func() { ctrl.ThumbnailReady() },
		logger.With("component", "saver"),
	)
	sv.Start()
	defer sv.Finish()

	ctrl = session.New(
		cfg.ToSessionConfig(),
		opener,
		sv,
		store,
		pf,
		notifier,
		pf.Values(),
		logger.With("component", "session"),
	)

	if err := ctrl.Open(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx, actions)
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, actions, logger.With("component", "ipc"))
	})

	if wsNotif != nil {
		srv := NewServer(logger.With("component", "ws"), actions, ServerConfig{})
		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), wsNotif.Events(), logger.With("component", "ws"))
			return nil
		})
		g.Go(func() error {
			return runStateWSServer(gctx, cfg.StateWS.Port, cfg.StateWS.Path, srv, logger.With("component", "ws"))
		})
	}

	if cfg.Preferences.Watch {
		g.Go(func() error {
			return watchPreferences(gctx, pf, actions, logger.With("component", "prefs"))
		})
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			return runKeyInput(gctx, cfg.Input.Devices, actions, logger.With("component", "input"))
		})
	}

	listenInfo := []any{"camera", cfg.Camera.Driver, "ipc", cfg.IPC.SocketPath, "storage", store.Dir()}
	if cfg.StateWS.Port > 0 {
		listenInfo = append(listenInfo, "state_ws_port", cfg.StateWS.Port)
	}
	if len(cfg.Input.Devices) > 0 {
		listenInfo = append(listenInfo, "input_devices", cfg.Input.Devices)
	}
	logger.Info("listening", listenInfo...)

	return g.Wait()
}

// watchPreferences turns external preference edits into set_preference actions.
func watchPreferences(ctx context.Context, pf *prefs.Store, actions chan<- session.Event, logger *slog.Logger) error {
	changes := make(chan prefs.Change, 16)
	errc := make(chan error, 1)
	go func() { errc <- pf.Watch(ctx, changes) }()

	for {
		select {
		case err := <-errc:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("watch preferences: %w", err)

		case c := <-changes:
			logger.Info("preference changed externally", "key", c.Key, "value", c.Value)
			select {
			case actions <- session.SetPreference{Key: c.Key, Value: c.Value}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runKeyInput reads camera keys from the input devices and translates them
// into session actions. Losing an input device stops the daemon.
func runKeyInput(ctx context.Context, devices []string, actions chan<- session.Event, logger *slog.Logger) error {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			logger.Error("failed to open input device", "device", dev, "error", err, "tip", "run as root or add user to 'input' group")
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}

	events := make(chan inputEvent, 64)
	readErr := make(chan error, len(files))
	startInputReaders(files, events, readErr)

	var keys keyTranslator
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-events:
			for _, act := range keys.translate(ev) {
				logger.Debug("key action", "code", ev.Code, "value", ev.Value, "action", fmt.Sprintf("%T", act))
				select {
				case actions <- act:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
