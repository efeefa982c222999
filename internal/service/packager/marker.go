package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/cpu-optimizer-packager/internal/logger"
)

const (
	// MarkerFilename marks that a packaging run is in progress in the working directory.
	// It holds the process ID of the run that created it.
	MarkerFilename = "cpu-optimizer-packager.marker"

	// markerLifetime bounds how long a marker without a readable owner blocks new runs.
	markerLifetime = 30 * time.Minute

	// markerFileMode is the permission of the marker file.
	markerFileMode os.FileMode = 0o600
)

var errMalformedMarker = errors.New("malformed run marker")

// IsPackagerRunningNow reports whether another run owns the marker in the working directory.
// A marker whose owner has exited is stale and gets removed; no process is ever signalled.
func IsPackagerRunningNow(ctx context.Context) bool {
	executable, err := currentExecutable()
	if err != nil {
		logger.WarnKV(ctx, "Unable to identify the packager process", "error", err)
	}

	return isMarkerHeld(ctx, executable)
}

// isMarkerHeld reports whether the marker belongs to a live process running executable.
// An empty executable disables the owner check and leaves only the age check.
func isMarkerHeld(ctx context.Context, executable string) bool {
	logger.Debug(ctx, "Checking for the presence of a run marker")

	fileInfo, err := os.Stat(MarkerFilename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to read run marker", "error", err)
		}

		return false
	}

	owner, err := readMarkerOwner()

	switch {
	case err == nil && executable != "":
		alive, aliveErr := isProcessRunning(owner, executable)
		if aliveErr != nil {
			logger.WarnKV(ctx, "Unable to check the run marker owner", "pid", owner, "error", aliveErr)
			return true
		}

		if alive {
			logger.DebugKV(ctx, "Run marker is held", "pid", owner)
			return true
		}
	case time.Since(fileInfo.ModTime()) <= markerLifetime:
		return true
	}

	logger.WarnKV(ctx, "Removing stale run marker",
		"path", MarkerFilename, "pid", owner, "modified", fileInfo.ModTime())

	if err = os.Remove(MarkerFilename); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove stale run marker", "error", err)
		return true
	}

	return false
}

// createMarker claims the working directory for this process.
func createMarker() error {
	marker, err := os.OpenFile(MarkerFilename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		return err
	}

	_, err = marker.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := marker.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(MarkerFilename)
	}

	return err
}

func removeMarker() error {
	err := os.Remove(MarkerFilename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// readMarkerOwner returns the process ID stored in the marker.
func readMarkerOwner() (int, error) {
	contents, err := os.ReadFile(MarkerFilename)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", errMalformedMarker, contents)
	}

	return pid, nil
}

// isProcessRunning reports whether pid is alive and runs executable.
func isProcessRunning(pid int, executable string) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil && process.Executable() == executable, nil
}

// currentExecutable returns this process's name as the process table reports it.
func currentExecutable() (string, error) {
	process, err := ps.FindProcess(os.Getpid())
	if err != nil {
		return "", err
	}

	if process == nil {
		return "", fmt.Errorf("process %d is not listed", os.Getpid())
	}

	return process.Executable(), nil
}
