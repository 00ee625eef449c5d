//go:build !linux

package main

import (
	"fmt"
	"log/slog"

	"shutterbrainz/internal/camera"
)

// newCameraOpener selects the device backend named by camera.driver. V4L2 is
// linux only.
func newCameraOpener(cfg *Config, logger *slog.Logger) (camera.Opener, error) {
	switch cfg.Camera.Driver {
	case driverSimulated:
		return camera.SimulatedOpener(cfg.ToSimulatedConfig(), nil), nil
	default:
		return nil, fmt.Errorf("camera driver %q is not supported on this platform", cfg.Camera.Driver)
	}
}
