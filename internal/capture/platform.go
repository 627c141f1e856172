package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/UmanUmair/ScreenGuide/internal/permission"
)

// HostPlatform probes the host's screen, microphone and camera so the
// permission gateway can elicit the same denial taxonomy a browser reports.
type HostPlatform struct {
	Screen       ScreenSource
	AudioDevice  string
	CameraDevice string

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	run      commandRunner
}

func NewHostPlatform(screen ScreenSource, audioDevice, cameraDevice string) *HostPlatform {
	return &HostPlatform{
		Screen:       screen,
		AudioDevice:  audioDevice,
		CameraDevice: cameraDevice,
		lookPath:     exec.LookPath,
		stat:         os.Stat,
		run:          runCommand,
	}
}

type noopResource struct{}

func (noopResource) Release() {}

func (h *HostPlatform) Supports(c permission.Capability) bool {
	switch c {
	case permission.CapabilityScreen:
		if h.Screen == nil {
			return false
		}
		if _, ok := h.Screen.(*DesktopScreen); ok {
			return h.has("ffmpeg") || h.has("scrot")
		}
		return true
	case permission.CapabilityMicrophone, permission.CapabilityCamera:
		return h.has("ffmpeg")
	}
	return false
}

func (h *HostPlatform) has(bin string) bool {
	_, err := h.lookPath(bin)
	return err == nil
}

func (h *HostPlatform) Acquire(ctx context.Context, c permission.Capability) (permission.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var err error
	switch c {
	case permission.CapabilityScreen:
		_, err = h.Screen.Capture(ctx)
	case permission.CapabilityMicrophone:
		_, err = h.probe(ctx, "-f", "alsa", "-i", h.AudioDevice, "-t", "0.1", "-f", "null", "-")
	case permission.CapabilityCamera:
		if _, statErr := h.stat(h.CameraDevice); statErr != nil {
			return nil, mapError(ctx, statErr)
		}
		_, err = h.probe(ctx, "-f", "v4l2", "-i", h.CameraDevice, "-frames:v", "1", "-f", "null", "-")
	default:
		return nil, permission.NewPlatformError(permission.ErrNameNotSupported, fmt.Errorf("unknown capability %s", c))
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return noopResource{}, nil
}

func (h *HostPlatform) probe(ctx context.Context, args ...string) ([]byte, error) {
	out, err := h.run(ctx, "ffmpeg", append([]string{"-loglevel", "error", "-y"}, args...)...)
	if err != nil {
		return out, classifyExecError(err, out)
	}
	return out, nil
}

// mapError translates host failures into platform error names.
func mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return permission.NewPlatformError(permission.ErrNameAbort, err)
	}
	if errors.Is(err, errExecNotFound) || errors.Is(err, exec.ErrNotFound) {
		return permission.NewPlatformError(permission.ErrNameNotSupported, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return permission.NewPlatformError(permission.ErrNameNotFound, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return permission.NewPlatformError(permission.ErrNameNotAllowed, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return permission.NewPlatformError(permission.ErrNameNotAllowed, err)
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "cannot open display"), strings.Contains(msg, "no such device"):
		return permission.NewPlatformError(permission.ErrNameNotFound, err)
	case strings.Contains(msg, "device or resource busy"):
		return permission.NewPlatformError(permission.ErrNameNotReadable, err)
	}
	return err
}
