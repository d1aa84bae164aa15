package listen

import cerrors "unitgo/errors"

// Reconcile matches each configured socket against the inherited list by
// family-aware address equality; a match reuses the inherited descriptor
// (adopting the configured socket's parameters), otherwise a fresh socket
// is created. Failure to create any single socket fails the whole
// operation, matching the original's "no partial results" policy for C8.
func Reconcile(configured, inherited []*Socket) ([]*Socket, error) {
	result := make([]*Socket, 0, len(configured))

	for _, curr := range configured {
		matched := false

		for _, prev := range inherited {
			if curr.Sockaddr.Equal(prev.Sockaddr) {
				result = append(result, Update(curr, prev))
				matched = true
				break
			}
		}

		if matched {
			continue
		}

		created, err := Create(curr.Sockaddr, curr.Backlog)
		if err != nil {
			return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "reconcile")
		}
		result = append(result, created)
	}

	return result, nil
}

// Enable marks every non-blocking socket as ready to accept connections on
// the given engine. enableFn is supplied by the caller (normally the
// supervisor's watchAccept hook) so this package does not need to import
// the engine package.
func Enable(sockets []*Socket, enableFn func(*Socket) error) error {
	for _, s := range sockets {
		if !s.NonBlocking {
			continue
		}
		if err := enableFn(s); err != nil {
			return err
		}
	}
	return nil
}
