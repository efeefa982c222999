package archive

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	// Ensure SHA512 is registered for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is applied to the published archive.
	DefaultFileMode os.FileMode = 0o644

	// DefaultChecksumFunction hashes archives and entries.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// defaultEntryCapacity is the initial capacity for entry lists.
	defaultEntryCapacity = 4
)

var (
	// ErrUnexpectedEntries is returned when an archive's entry set differs from the expected mapping.
	ErrUnexpectedEntries = errors.New("archive entries do not match the expected layout")
	// ErrChecksumMismatch is returned when an entry's contents differ from its source file.
	ErrChecksumMismatch = errors.New("archive entry checksum mismatch")

	errHashUnavailable = errors.New("hash function unavailable")
)

// Mapping pairs a source file with its internal archive path.
type Mapping struct {
	// Source is the filesystem path of the file.
	Source string
	// Entry is the path stored inside the archive.
	Entry string
}

// Checksum hashes everything read from r with DefaultChecksumFunction.
func Checksum(r io.Reader) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// FileChecksum hashes the file at path with DefaultChecksumFunction.
func FileChecksum(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	return Checksum(f)
}

// List returns the entry names of the archive at path in stored order.
func List(path string) ([]string, error) {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}

	return names, nil
}

// Verify checks that the archive at path holds exactly the mapped entries
// and that every entry matches its source file byte for byte.
func Verify(path string, mappings []Mapping) error {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	if err = compareEntrySets(reader.File, mappings); err != nil {
		return err
	}

	sources := make(map[string]string, len(mappings))
	for _, m := range mappings {
		sources[m.Entry] = m.Source
	}

	for _, file := range reader.File {
		if err = verifyEntry(file, sources[file.Name]); err != nil {
			return err
		}
	}

	return nil
}

func compareEntrySets(files []*zip.File, mappings []Mapping) error {
	got := make([]string, 0, len(files))
	for _, file := range files {
		got = append(got, file.Name)
	}

	want := make([]string, 0, len(mappings))
	for _, m := range mappings {
		want = append(want, m.Entry)
	}

	sort.Strings(got)
	sort.Strings(want)

	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		return fmt.Errorf("%w: got [%s], want [%s]",
			ErrUnexpectedEntries, strings.Join(got, ", "), strings.Join(want, ", "))
	}

	return nil
}

func verifyEntry(file *zip.File, sourcePath string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", file.Name, err)
	}

	defer func() {
		_ = rc.Close()
	}()

	entryChecksum, err := Checksum(rc)
	if err != nil {
		return fmt.Errorf("entry %s: %w", file.Name, err)
	}

	sourceChecksum, err := FileChecksum(sourcePath)
	if err != nil {
		return fmt.Errorf("source %s: %w", sourcePath, err)
	}

	if !bytes.Equal(entryChecksum, sourceChecksum) {
		return fmt.Errorf("%s: %w", file.Name, ErrChecksumMismatch)
	}

	return nil
}
