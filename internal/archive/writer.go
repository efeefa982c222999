package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/klauspost/compress/zip"
)

var (
	// ErrInvalidEntryPath is returned for internal paths that are absolute, unclean or escape the archive root.
	ErrInvalidEntryPath = errors.New("invalid archive entry path")
	// ErrNotRemapped is returned when an internal path equals the source path.
	ErrNotRemapped = errors.New("archive entry path must differ from its source path")
	// ErrDuplicateEntry is returned when an internal path is added twice.
	ErrDuplicateEntry = errors.New("duplicate archive entry")
	// ErrNotRegularFile is returned when a source exists but is not a regular file.
	ErrNotRegularFile = errors.New("not a regular file")

	errWriterClosed = errors.New("archive writer is already committed or aborted")
)

// Writer assembles an archive in memory and publishes it with Commit.
// Until Commit succeeds nothing is written to the output path.
type Writer struct {
	// path is the archive location on disk.
	path string
	// buf holds the zip stream.
	buf bytes.Buffer
	// zw encodes entries into buf.
	zw *zip.Writer
	// entries lists internal paths in insertion order.
	entries []string
	// closed is set by Commit and Abort.
	closed bool
}

// Create starts a new archive destined for outputPath.
// It fails when the destination directory is missing or not writable.
func Create(outputPath string) (*Writer, error) {
	target := filepath.Clean(outputPath)

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return nil, fmt.Errorf("archive destination %s: %w", target, ErrNotRegularFile)
	}

	if err := checkWritable(filepath.Dir(target)); err != nil {
		return nil, fmt.Errorf("archive destination %s: %w", target, err)
	}

	w := &Writer{
		path:    target,
		entries: make([]string, 0, defaultEntryCapacity),
	}
	w.zw = zip.NewWriter(&w.buf)

	return w, nil
}

// Path returns the archive location on disk.
func (w *Writer) Path() string {
	return w.path
}

// Entries returns the internal paths added so far.
func (w *Writer) Entries() []string {
	return append([]string(nil), w.entries...)
}

// Add copies sourcePath into the archive under entryPath using Deflate.
// The source must be an existing regular file and entryPath must be a remapping of it.
func (w *Writer) Add(sourcePath, entryPath string) error {
	if w.closed {
		return errWriterClosed
	}

	if err := validateEntryPath(entryPath); err != nil {
		return err
	}

	if entryPath == filepath.ToSlash(filepath.Clean(sourcePath)) {
		return fmt.Errorf("%s: %w", entryPath, ErrNotRemapped)
	}

	for _, existing := range w.entries {
		if existing == entryPath {
			return fmt.Errorf("%s: %w", entryPath, ErrDuplicateEntry)
		}
	}

	info, err := statSource(sourcePath)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("file header for %s: %w", sourcePath, err)
	}

	header.Name = entryPath
	header.Method = zip.Deflate

	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", entryPath, err)
	}

	src, err := os.Open(filepath.Clean(sourcePath))
	if err != nil {
		return fmt.Errorf("open %s: %w", sourcePath, err)
	}

	defer func() {
		_ = src.Close()
	}()

	if _, err = io.Copy(dst, src); err != nil {
		return fmt.Errorf("write entry %s: %w", entryPath, err)
	}

	w.entries = append(w.entries, entryPath)

	return nil
}

// Commit finishes the zip stream and replaces the output path in one step.
// A pre-existing archive is overwritten; on failure it is left as it was.
func (w *Writer) Commit() (err error) {
	if w.closed {
		return errWriterClosed
	}

	w.closed = true

	if err = w.zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	data := w.buf.Bytes()

	checksum, err := Checksum(bytes.NewReader(data))
	if err != nil {
		return err
	}

	created, err := ensureTarget(w.path)
	if err != nil {
		if created {
			_ = os.Remove(w.path)
		}

		return err
	}

	defer func() {
		if err != nil && created {
			_ = os.Remove(w.path)
		}
	}()

	options := goupdate.Options{
		TargetPath: w.path,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		_ = os.Remove(stagedPath(w.path))

		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("replace %s: %w; restoring previous archive: %w", w.path, err, rollbackErr)
		}

		return fmt.Errorf("replace %s: %w", w.path, err)
	}

	w.buf.Reset()

	return nil
}

// Abort drops the in-memory archive. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.closed {
		return
	}

	w.closed = true
	w.buf.Reset()
}

// validateEntryPath accepts clean, relative, slash-separated paths below the archive root.
func validateEntryPath(entryPath string) error {
	if entryPath == "" ||
		strings.Contains(entryPath, `\`) ||
		strings.HasSuffix(entryPath, "/") ||
		path.IsAbs(entryPath) ||
		path.Clean(entryPath) != entryPath ||
		entryPath == ".." ||
		strings.HasPrefix(entryPath, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidEntryPath, entryPath)
	}

	return nil
}

// statSource returns the source's file info, wrapping os.ErrNotExist for missing inputs.
func statSource(sourcePath string) (os.FileInfo, error) {
	info, err := os.Stat(sourcePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", sourcePath, os.ErrNotExist)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", sourcePath, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", sourcePath, ErrNotRegularFile)
	}

	return info, nil
}

// checkWritable creates and removes a probe file in dir.
func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".archive-probe-*")
	if err != nil {
		return err
	}

	name := probe.Name()

	if err = probe.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}

	return os.Remove(name)
}

// stagedPath is where Apply writes the new archive before moving it over target.
func stagedPath(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".new")
}

// ensureTarget creates an empty target when none exists: Apply renames the
// current file aside before moving the new one in.
func ensureTarget(target string) (bool, error) {
	_, err := os.Stat(target)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", target, err)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFileMode)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", target, err)
	}

	if err = f.Close(); err != nil {
		return true, fmt.Errorf("create %s: %w", target, err)
	}

	return true, nil
}
