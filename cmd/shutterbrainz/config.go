package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/saver"
	"shutterbrainz/internal/session"
	"shutterbrainz/internal/storage"
)

// Config is the top-level YAML configuration for the shutterbrainz daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume a
// well-formed config. The file is the primary configuration surface; flags are
// for small overrides.
type Config struct {
	// Camera device selection and stream format
	Camera CameraConfig `yaml:"camera"`

	// Where pictures are written and indexed
	Storage StorageConfig `yaml:"storage"`

	// Asynchronous persistence pipeline
	Saver SaverConfig `yaml:"saver"`

	// Persisted user preferences
	Preferences PreferencesConfig `yaml:"preferences"`

	// Shutter/zoom key input configuration
	Input InputConfig `yaml:"input"`

	// IPC configuration (shutter-ctl and scripts)
	IPC IPCConfig `yaml:"ipc"`

	// State WebSocket server
	StateWS StateWSConfig `yaml:"state_ws"`

	// Session timings
	Session SessionConfig `yaml:"session"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type CameraConfig struct {
	Driver     string `yaml:"driver"` // "simulated" or "v4l2"
	ID         int    `yaml:"id"`
	Device     string `yaml:"device,omitempty"` // v4l2 capture node
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	SmoothZoom bool   `yaml:"smooth_zoom"`
	MaxZoom    int    `yaml:"max_zoom"` // simulated driver only
}

type StorageConfig struct {
	Dir               string `yaml:"dir"`
	IndexDB           string `yaml:"index_db,omitempty"` // defaults to <dir>/media.db
	LowThresholdBytes int64  `yaml:"low_threshold_bytes"`
	PictureSizeBytes  int64  `yaml:"picture_size_bytes"`
}

type SaverConfig struct {
	QueueLimit int `yaml:"queue_limit"`
}

type PreferencesConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"` // Empty disables key input
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Port int    `yaml:"port"` // 0 disables the server
	Path string `yaml:"path"`
}

type SessionConfig struct {
	FlushRetryMS   int `yaml:"flush_retry_ms"`
	ReviewMS       int `yaml:"review_ms"`
	HintDelayMS    int `yaml:"hint_delay_ms"`
	ReleaseDelayMS int `yaml:"release_delay_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and the session package defaults.
func DefaultConfig() Config {
	sd := session.DefaultConfig()
	return Config{
		Camera: CameraConfig{
			Driver:     driverSimulated,
			ID:         0,
			Device:     "/dev/video0",
			Width:      defaultCaptureWidth,
			Height:     defaultCaptureHeight,
			FPS:        defaultCaptureFPS,
			SmoothZoom: true,
			MaxZoom:    defaultSimulatedMaxZoom,
		},
		Storage: StorageConfig{
			Dir:               "~/Pictures/shutterbrainz",
			LowThresholdBytes: storage.DefaultLowThreshold,
			PictureSizeBytes:  storage.DefaultPictureSize,
		},
		Saver: SaverConfig{
			QueueLimit: saver.DefaultQueueLimit,
		},
		Preferences: PreferencesConfig{
			File:  "~/.config/shutterbrainz/preferences.yaml",
			Watch: true,
		},
		Input: InputConfig{
			Devices: nil,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/shutterbrainz.sock",
		},
		StateWS: StateWSConfig{
			Port: 3002,
			Path: "/ws/state",
		},
		Session: SessionConfig{
			FlushRetryMS:   int(sd.FlushRetry / time.Millisecond),
			ReviewMS:       int(sd.Review / time.Millisecond),
			HintDelayMS:    int(sd.HintDelay / time.Millisecond),
			ReleaseDelayMS: int(sd.ReleaseDelay / time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - Paths inside the config are not expanded here; call sites use ExpandPath.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	} else if !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	return cfg, nil
}

// FlagOverrides holds values from explicitly set flags. Each override is only
// applied if its pointer is non-nil; main.go decides which flags exist.
type FlagOverrides struct {
	CameraDriver *string
	CameraID     *int
	CameraDevice *string

	StorageDir *string

	PrefsFile  *string
	PrefsWatch *bool

	InputDevice *string

	IPCSocketPath *string
	StateWSPort   *int

	LogLevel *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value is
// applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.CameraDriver != nil {
		cfg.Camera.Driver = *o.CameraDriver
	}
	if o.CameraID != nil {
		cfg.Camera.ID = *o.CameraID
	}
	if o.CameraDevice != nil {
		cfg.Camera.Device = *o.CameraDevice
	}

	if o.StorageDir != nil {
		cfg.Storage.Dir = *o.StorageDir
	}

	if o.PrefsFile != nil {
		cfg.Preferences.File = *o.PrefsFile
	}
	if o.PrefsWatch != nil {
		cfg.Preferences.Watch = *o.PrefsWatch
	}

	if o.InputDevice != nil {
		// A single flag replaces the configured list; empty disables input.
		if *o.InputDevice == "" {
			cfg.Input.Devices = nil
		} else {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSPort != nil {
		cfg.StateWS.Port = *o.StateWSPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Camera
	switch c.Camera.Driver {
	case driverSimulated:
		if c.Camera.MaxZoom < 0 {
			return errors.New("camera.max_zoom must be >= 0")
		}
	case driverV4L2:
		if c.Camera.Device == "" {
			return errors.New("camera.device must not be empty for the v4l2 driver")
		}
	default:
		return fmt.Errorf("camera.driver must be %q or %q", driverSimulated, driverV4L2)
	}
	if c.Camera.ID < 0 {
		return errors.New("camera.id must be >= 0")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errors.New("camera.width and camera.height must be > 0")
	}
	if c.Camera.FPS <= 0 || c.Camera.FPS > 120 {
		return errors.New("camera.fps must be between 1 and 120")
	}

	// Storage
	if c.Storage.Dir == "" {
		return errors.New("storage.dir must not be empty")
	}
	if c.Storage.LowThresholdBytes < 0 {
		return errors.New("storage.low_threshold_bytes must be >= 0")
	}
	if c.Storage.PictureSizeBytes <= 0 {
		return errors.New("storage.picture_size_bytes must be > 0")
	}

	// Saver
	if c.Saver.QueueLimit <= 0 {
		return errors.New("saver.queue_limit must be > 0")
	}

	// Preferences
	if c.Preferences.File == "" {
		return errors.New("preferences.file must not be empty")
	}
	switch filepath.Ext(c.Preferences.File) {
	case ".yaml", ".yml", ".toml":
	default:
		return errors.New("preferences.file must end in .yaml, .yml or .toml")
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State WebSocket
	if c.StateWS.Port < 0 || c.StateWS.Port > 65535 {
		return errors.New("state_ws.port must be between 0 and 65535")
	}
	if c.StateWS.Port > 0 && (c.StateWS.Path == "" || c.StateWS.Path[0] != '/') {
		return errors.New("state_ws.path must start with '/'")
	}

	// Session
	if c.Session.FlushRetryMS <= 0 {
		return errors.New("session.flush_retry_ms must be > 0")
	}
	if c.Session.ReviewMS < 0 {
		return errors.New("session.review_ms must be >= 0")
	}
	if c.Session.HintDelayMS < 0 {
		return errors.New("session.hint_delay_ms must be >= 0")
	}
	if c.Session.ReleaseDelayMS < 0 {
		return errors.New("session.release_delay_ms must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToSessionConfig converts file config into the session controller config.
func (c *Config) ToSessionConfig() session.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return session.Config{
		CameraID:     c.Camera.ID,
		SmoothZoom:   c.Camera.SmoothZoom,
		FlushRetry:   ms(c.Session.FlushRetryMS),
		Review:       ms(c.Session.ReviewMS),
		HintDelay:    ms(c.Session.HintDelayMS),
		ReleaseDelay: ms(c.Session.ReleaseDelayMS),
	}
}

// ToStorageConfig expands paths; an empty index_db is left to the storage default.
func (c *Config) ToStorageConfig() storage.Config {
	return storage.Config{
		Dir:          ExpandPath(c.Storage.Dir),
		IndexDB:      ExpandPath(c.Storage.IndexDB),
		LowThreshold: c.Storage.LowThresholdBytes,
		PictureSize:  c.Storage.PictureSizeBytes,
	}
}

// ToSimulatedConfig sizes the simulated device from the camera section.
func (c *Config) ToSimulatedConfig() camera.SimulatedConfig {
	sc := camera.DefaultSimulatedConfig()
	sc.MaxZoom = c.Camera.MaxZoom
	sc.SmoothZoom = c.Camera.SmoothZoom
	sc.PictureSize = camera.Size{Width: c.Camera.Width, Height: c.Camera.Height}
	sc.PreviewSize = camera.Size{Width: c.Camera.Width / 4, Height: c.Camera.Height / 4}
	return sc
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like storage.dir.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
