package packager

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeMarker stores contents as the run marker, optionally backdated.
func writeMarker(t *testing.T, contents string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(MarkerFilename, []byte(contents), markerFileMode))

	if age > 0 {
		modified := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(MarkerFilename, modified, modified))
	}
}

// exitedProcessID returns the ID of a process that has already finished.
func exitedProcessID(t *testing.T) int {
	t.Helper()

	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())

	return cmd.ProcessState.Pid()
}

// startSleeper starts an unrelated long-running process and returns it with a channel
// that receives once it exits.
func startSleeper(t *testing.T) (*exec.Cmd, <-chan error) {
	t.Helper()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)

	go func() {
		done <- cmd.Wait()
	}()

	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})

	return cmd, done
}

// TestIsPackagerRunningNow_NoMarker allows a run in a clean directory.
func TestIsPackagerRunningNow_NoMarker(t *testing.T) {
	chdir(t, t.TempDir())

	require.False(t, IsPackagerRunningNow(context.Background()))
}

// TestIsPackagerRunningNow_FreshMarker blocks a second run.
func TestIsPackagerRunningNow_FreshMarker(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, createMarker())

	contents, err := os.ReadFile(MarkerFilename)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(contents))

	require.True(t, IsPackagerRunningNow(context.Background()))

	// Run refuses to start and leaves the other run's marker alone.
	err = Run(context.Background(), &Options{ConfigPath: "missing.yaml"})
	require.ErrorIs(t, err, errPackagerRunning)

	_, err = os.Stat(MarkerFilename)
	require.NoError(t, err)
}

// TestIsPackagerRunningNow_LongRunKeepsMarker keeps a marker older than its lifetime while the owner runs.
func TestIsPackagerRunningNow_LongRunKeepsMarker(t *testing.T) {
	chdir(t, t.TempDir())

	writeMarker(t, strconv.Itoa(os.Getpid()), 2*markerLifetime)

	require.True(t, IsPackagerRunningNow(context.Background()))

	_, err := os.Stat(MarkerFilename)
	require.NoError(t, err)
}

// TestIsPackagerRunningNow_ExitedOwner removes a marker whose run has ended, however recent.
func TestIsPackagerRunningNow_ExitedOwner(t *testing.T) {
	chdir(t, t.TempDir())

	writeMarker(t, strconv.Itoa(exitedProcessID(t)), 0)

	require.False(t, IsPackagerRunningNow(context.Background()))

	_, err := os.Stat(MarkerFilename)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestIsPackagerRunningNow_ForeignOwner treats a reused process ID as stale and leaves that process running.
func TestIsPackagerRunningNow_ForeignOwner(t *testing.T) {
	chdir(t, t.TempDir())

	sleeper, done := startSleeper(t)
	writeMarker(t, strconv.Itoa(sleeper.Process.Pid), 2*markerLifetime)

	require.False(t, IsPackagerRunningNow(context.Background()))

	_, err := os.Stat(MarkerFilename)
	require.ErrorIs(t, err, os.ErrNotExist)

	select {
	case err = <-done:
		require.Fail(t, "unrelated process exited", "wait result: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestIsMarkerHeld_MatchesOwnerExecutable holds the marker for a live owner with the expected name.
func TestIsMarkerHeld_MatchesOwnerExecutable(t *testing.T) {
	chdir(t, t.TempDir())

	sleeper, _ := startSleeper(t)
	writeMarker(t, strconv.Itoa(sleeper.Process.Pid), 2*markerLifetime)

	require.True(t, isMarkerHeld(context.Background(), "sleep"))
	require.False(t, isMarkerHeld(context.Background(), "cpu-optimizer-packager"))
}

// TestIsPackagerRunningNow_MalformedMarker falls back to the marker age.
func TestIsPackagerRunningNow_MalformedMarker(t *testing.T) {
	chdir(t, t.TempDir())

	writeMarker(t, "", 0)
	require.True(t, IsPackagerRunningNow(context.Background()))

	writeMarker(t, "not a pid", 2*markerLifetime)
	require.False(t, IsPackagerRunningNow(context.Background()))

	_, err := os.Stat(MarkerFilename)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRemoveMarker tolerates an already removed marker.
func TestRemoveMarker(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, createMarker())
	require.ErrorIs(t, createMarker(), os.ErrExist)
	require.NoError(t, removeMarker())
	require.NoError(t, removeMarker())
}
