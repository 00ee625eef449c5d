//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"time"

	"shutterbrainz/internal/camera"
)

// newCameraOpener selects the device backend named by camera.driver.
func newCameraOpener(cfg *Config, logger *slog.Logger) (camera.Opener, error) {
	switch cfg.Camera.Driver {
	case driverSimulated:
		return camera.SimulatedOpener(cfg.ToSimulatedConfig(), nil), nil
	case driverV4L2:
		return camera.V4L2Opener(camera.V4L2Config{
			Path:         cfg.Camera.Device,
			Width:        cfg.Camera.Width,
			Height:       cfg.Camera.Height,
			FPS:          cfg.Camera.FPS,
			FrameTimeout: defaultFrameTimeoutMS * time.Millisecond,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Camera.Driver)
	}
}
