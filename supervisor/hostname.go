package supervisor

import (
	"os"
	"strings"
)

// hostNameMax mirrors POSIX HOST_NAME_MAX (64 on Linux), the length the
// runtime core truncates the discovered hostname to.
const hostNameMax = 64

// discoverHostname resolves os.Hostname, lowercases it, and truncates to
// hostNameMax bytes, matching spec.md §4.6 stage 1.
func discoverHostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", err
	}

	h = strings.ToLower(h)
	if len(h) > hostNameMax {
		h = h[:hostNameMax]
	}
	return h, nil
}
