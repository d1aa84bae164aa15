// Package logfile implements the LogFileTable (C4): a dedup-by-path list
// of append-only log sinks, preallocated with a main error log entry that
// is materialized first and duplicated onto stderr.
package logfile

import (
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	cerrors "unitgo/errors"
)

// Level mirrors the handful of severities the runtime core itself emits
// against a log file entry; application-level logging uses slog.Level
// instead, this is only the "floor" level recorded per sink.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelCrit
)

// File is one entry in the table: a path, the open descriptor once
// materialized (-1 before that), and its floor level.
type File struct {
	Path  string
	Level Level
	fd    int
}

// FD returns the entry's open descriptor, or -1 if not yet materialized.
func (f *File) FD() int {
	return f.fd
}

// Table is the LogFileTable: a slice of *File deduplicated by normalized
// absolute path, guarded by a mutex since both config parsing and signal
// handling can reach for the main error log concurrently.
type Table struct {
	mu      sync.Mutex
	prefix  string
	entries []*File
}

// New creates a table with the main error log preallocated as entries[0]:
// fd = -1, level = CRIT, path left empty until SetMainPath assigns it. prefix is the directory non-absolute paths are resolved against.
func New(prefix string) *Table {
	return &Table{
		prefix:  prefix,
		entries: []*File{{Path: "", Level: LevelCrit, fd: -1}},
	}
}

// Main returns the preallocated main error log entry (entries[0]).
func (t *Table) Main() *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[0]
}

// SetMainPath assigns the main error log's path, e.g. from --log.
func (t *Table) SetMainPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[0].Path = t.resolveLocked(path)
}

// Add resolves path against the table's prefix unless already absolute,
// then scans for an existing entry with an equal normalized path; a match
// is returned as-is, otherwise a new entry at level CRIT is appended.
func (t *Table) Add(path string) *File {
	t.mu.Lock()
	defer t.mu.Unlock()

	resolved := t.resolveLocked(path)

	for _, f := range t.entries {
		if f.Path == resolved {
			return f
		}
	}

	f := &File{Path: resolved, Level: LevelCrit, fd: -1}
	t.entries = append(t.entries, f)
	return f
}

func (t *Table) resolveLocked(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(t.prefix, path))
}

// Entries returns a snapshot of the table's entries, main log first.
func (t *Table) Entries() []*File {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*File, len(t.entries))
	copy(out, t.entries)
	return out
}

// Materialize opens every entry O_WRONLY|O_APPEND|O_CREAT with owner-only
// access (0600), and additionally duplicates the main error log's
// descriptor onto stderr so failures before logging is fully up still
// reach the console. An entry with an empty path (the main entry when
// SetMainPath was given no --log path) is skipped.
func (t *Table) Materialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, f := range t.entries {
		if f.Path == "" {
			continue
		}

		fd, err := unix.Open(f.Path, unix.O_WRONLY|unix.O_APPEND|unix.O_CREAT, 0600)
		if err != nil {
			return cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "logfile", "open", f.Path)
		}
		f.fd = fd

		if i == 0 {
			if err := unix.Dup2(fd, unix.Stderr); err != nil {
				return cerrors.Wrap(err, cerrors.ErrIOFailed, "logfile", "dup2(stderr)")
			}
		}
	}

	return nil
}

// Close closes every materialized entry's descriptor.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var first error
	for _, f := range t.entries {
		if f.fd < 0 {
			continue
		}
		fd := f.fd
		f.fd = -1
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}
