package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"shutterbrainz/internal/session"
)

// ============================================================================
// shutter-ctl - Command-line IPC Client
// ============================================================================
// This tool sends session actions to the shutterbrainz daemon via IPC.
//
// Usage:
//   shutter-ctl click
//   shutter-ctl zoom 4
//   shutter-ctl set burst-capture 5
//   shutter-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/shutterbrainz.sock)
// ============================================================================

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func main() {
	socketPath := "/tmp/shutterbrainz.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	var (
		line []byte
		err  error
	)
	if args[0] == "status" {
		line = []byte(`{"type":"status"}`)
	} else {
		var action session.Event
		action, err = parseAction(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			printUsage()
			os.Exit(1)
		}
		line, err = session.MarshalEvent(action)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: marshal action: %v\n", err)
			os.Exit(1)
		}
	}

	resp, err := send(socketPath, line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println("ok")
}

// parseAction maps a command line onto a session action.
func parseAction(args []string) (session.Event, error) {
	need := func(n int, usage string) error {
		if len(args) < n+1 {
			return fmt.Errorf("%s requires %s", args[0], usage)
		}
		return nil
	}
	atoi := func(s, what string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", what, s)
		}
		return v, nil
	}
	atof := func(s, what string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", what, s)
		}
		return v, nil
	}

	switch args[0] {
	case "focus", "half-press":
		return session.ShutterFocus{Pressed: true}, nil
	case "unfocus", "half-release":
		return session.ShutterFocus{Pressed: false}, nil
	case "click", "shoot":
		return session.ShutterClick{}, nil
	case "long-press":
		return session.ShutterLongPress{}, nil
	case "cancel-focus":
		return session.CancelFocus{}, nil

	case "zoom":
		if err := need(1, "a zoom value"); err != nil {
			return nil, err
		}
		v, err := atoi(args[1], "zoom value")
		if err != nil {
			return nil, err
		}
		return session.ZoomTo{Value: v}, nil
	case "zoom-in", "zoom-out":
		steps := 1
		if len(args) > 1 {
			v, err := atoi(args[1], "step count")
			if err != nil {
				return nil, err
			}
			steps = v
		}
		if args[0] == "zoom-out" {
			steps = -steps
		}
		return session.ZoomStep{Steps: steps}, nil
	case "zoom-toggle":
		return session.ZoomToggle{}, nil
	case "zoom-stop":
		return session.ZoomStop{}, nil

	case "set":
		if err := need(2, "a key and a value"); err != nil {
			return nil, err
		}
		return session.SetPreference{Key: args[1], Value: args[2]}, nil
	case "restore-defaults":
		return session.RestorePreferences{}, nil
	case "exposure":
		if err := need(2, "exposure and ISO"); err != nil {
			return nil, err
		}
		exp, err := atoi(args[1], "exposure")
		if err != nil {
			return nil, err
		}
		iso, err := atoi(args[2], "ISO")
		if err != nil {
			return nil, err
		}
		return session.ManualExposure{Exposure: exp, ISO: iso}, nil
	case "orientation":
		if err := need(1, "degrees"); err != nil {
			return nil, err
		}
		deg, err := atoi(args[1], "degrees")
		if err != nil {
			return nil, err
		}
		return session.SetOrientation{Degrees: deg}, nil
	case "location":
		if err := need(2, "latitude and longitude"); err != nil {
			return nil, err
		}
		lat, err := atof(args[1], "latitude")
		if err != nil {
			return nil, err
		}
		lon, err := atof(args[2], "longitude")
		if err != nil {
			return nil, err
		}
		var alt float64
		if len(args) > 3 {
			if alt, err = atof(args[3], "altitude"); err != nil {
				return nil, err
			}
		}
		return session.SetLocation{Latitude: lat, Longitude: lon, Altitude: alt, Time: time.Now().UTC()}, nil

	case "share":
		return session.Share{}, nil
	case "pause":
		return session.Pause{}, nil
	case "resume":
		return session.Resume{}, nil
	}
	return nil, fmt.Errorf("unknown command: %s", args[0])
}

func send(socketPath string, line []byte) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `shutter-ctl - Control the shutterbrainz daemon via IPC

Usage:
  shutter-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/shutterbrainz.sock)

Commands:
  focus, half-press           Press the shutter half way (autofocus)
  unfocus, half-release       Release the half-pressed shutter
  click, shoot                Take a picture
  long-press                  Focus, then take a picture
  cancel-focus                Cancel a running autofocus
  zoom <n>                    Zoom to an absolute value
  zoom-in [n], zoom-out [n]   Zoom by n steps (default 1)
  zoom-toggle                 Toggle between no zoom and maximum zoom
  zoom-stop                   Stop a smooth zoom
  set <key> <value>           Set a preference (e.g. set burst-capture 5)
  restore-defaults            Restore preference defaults
  exposure <ev> <iso>         Manual exposure compensation and ISO
  orientation <degrees>       Report device orientation
  location <lat> <lon> [alt]  Report a location fix for picture tags
  share                       Wait for pending saves, publish the last thumbnail
  pause, resume               Release / reacquire the camera
  status                      Print the session status
  help, -h, --help            Show this help message

Examples:
  shutter-ctl click
  shutter-ctl set contrast 80
  shutter-ctl -socket /run/shutterbrainz.sock status
`)
}
