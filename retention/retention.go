package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrRetention marks a reclaim pass in which at least one file could not be
// removed.
var ErrRetention = errors.New("retention pass incomplete")

// Extension selects the files that count toward the retention set.
const Extension = ".wav"

// Entry is one retained artifact as seen by a directory scan.
type Entry struct {
	Name    string
	ModTime time.Time
}

// Plan returns the entries to delete so that at most maxFiles remain,
// oldest first. Entries are ordered by modification time, then by name.
func Plan(entries []Entry, maxFiles int) []Entry {
	maxFiles = max(maxFiles, 0)
	if len(entries) <= maxFiles {
		return nil
	}

	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sorted[:len(sorted)-maxFiles]
}

// Scan snapshots the artifacts at the top level of fsys. Partial files and
// directories are ignored.
func Scan(fsys fs.FS) ([]Entry, error) {
	dirEntries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), Extension) {
			continue
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: d.Name(), ModTime: info.ModTime()})
	}
	return entries, nil
}

// Manager enforces the retention bound on a directory.
type Manager struct {
	logger *slog.Logger
	remove func(path string) error
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		remove: os.Remove,
	}
}

// Enforce deletes the oldest artifacts in dir until at most maxFiles remain.
// A file that cannot be removed is logged and skipped; the pass continues
// with the next candidate. Files already gone count as reclaimed.
func (m *Manager) Enforce(dir string, maxFiles int) ([]string, error) {
	entries, err := Scan(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan %s: %w", ErrRetention, dir, err)
	}

	var (
		deleted []string
		errs    []error
	)
	for _, e := range Plan(entries, maxFiles) {
		path := filepath.Join(dir, e.Name)
		err := m.remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Failed to delete old file", slog.String("path", path), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		m.logger.Info("Deleted old file", slog.String("path", path))
		deleted = append(deleted, path)
	}

	if len(errs) > 0 {
		return deleted, fmt.Errorf("%w: %w", ErrRetention, errors.Join(errs...))
	}
	return deleted, nil
}
