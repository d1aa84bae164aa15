// Package pidfile implements PidFile (C5): scoped creation and deletion of
// a pid file recording the supervisor's own process id.
package pidfile

import (
	"fmt"
	"os"

	cerrors "unitgo/errors"
)

// Write creates path with O_WRONLY|O_CREAT|O_TRUNC and mode 0600, writing
// pid as decimal text followed by a single line-feed, no trailing
// whitespace.
func Write(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "pidfile", "create", path)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		return cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "pidfile", "write", path)
	}

	return nil
}

// Remove deletes path. Callers only invoke this on a clean shutdown of a
// process whose role is master or single — a worker never owns the pid
// file and must not delete it.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "pidfile", "remove", path)
	}
	return nil
}
