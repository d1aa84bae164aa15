// Package inherit recovers listening sockets passed down by the parent
// process or an init system, trying two historical schemes in order:
// the legacy NGINX-style fd list, then systemd's LISTEN_FDS/LISTEN_PID
// pair. It is pure with respect to the environment: callers pass a
// lookup function so tests never touch process-global state.
package inherit

import (
	"log/slog"
	"strconv"
	"strings"

	cerrors "unitgo/errors"
	"unitgo/listen"
)

// Env is the subset of process environment this package reads. Production
// code passes os.LookupEnv; tests pass a map lookup.
type Env func(key string) (string, bool)

// Sockets recovers inherited listening sockets by trying scheme A (the
// NGINX environment variable) then scheme B (systemd). A nil, nil result
// means neither scheme applies — that is the "fresh start" signal the
// supervisor uses to decide whether to daemonize.
func Sockets(log *slog.Logger, env Env, pid int) ([]*listen.Socket, error) {
	if v, ok := env("NGINX"); ok {
		return legacySockets(log, v)
	}
	return systemdSockets(log, env, pid)
}

// legacySockets implements scheme A: a semicolon-terminated decimal fd
// list in the NGINX environment variable, e.g. "3;4;5;". A malformed
// token logs critical and aborts parsing of the rest of the variable, but
// does NOT revert entries already recovered — matching the original's
// "ignoring the rest of the variable" policy.
func legacySockets(log *slog.Logger, raw string) ([]*listen.Socket, error) {
	log.Error("using inherited listen sockets", "subsystem", "inherit", "scheme", "nginx", "value", raw)

	var sockets []*listen.Socket

	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] != ';' {
			continue
		}

		token := raw[start:i]
		start = i + 1

		fd, err := strconv.Atoi(token)
		if err != nil || fd < 0 {
			log.Error("invalid socket number, ignoring the rest of the variable",
				"subsystem", "inherit", "scheme", "nginx", "token", token, "value", raw)
			return sockets, cerrors.WrapWithDetail(err, cerrors.ErrEnvironmentInvalid,
				"inherit", "parse NGINX", raw)
		}

		s, err := listen.FromInherited(fd)
		if err != nil {
			return sockets, err
		}
		sockets = append(sockets, s)
	}

	return sockets, nil
}

// systemdSockets implements scheme B. The intended range is descriptors
// [3, 3+n), not [3, n) as the original's loop literally reads — see the
// runtime core's design notes, item 1. A mismatched LISTEN_PID, a
// non-integer count, or missing variables each yield "no inherited
// sockets" rather than an error.
func systemdSockets(log *slog.Logger, env Env, pid int) ([]*listen.Socket, error) {
	nfd, ok := env("LISTEN_FDS")
	if !ok {
		return nil, nil
	}

	listenPid, ok := env("LISTEN_PID")
	if !ok {
		return nil, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(nfd))
	if err != nil || n < 0 {
		return nil, nil
	}

	wantPid, err := strconv.Atoi(strings.TrimSpace(listenPid))
	if err != nil || wantPid != pid {
		return nil, nil
	}

	log.Info("using systemd listen sockets", "subsystem", "inherit", "scheme", "systemd", "count", n)

	sockets := make([]*listen.Socket, 0, n)
	for fd := 3; fd < 3+n; fd++ {
		s, err := listen.FromInheritedAssumeStream(fd)
		if err != nil {
			return nil, err
		}
		sockets = append(sockets, s)
	}

	return sockets, nil
}
