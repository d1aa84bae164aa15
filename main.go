// unitgo is a process-supervisor runtime: it boots an event engine,
// forks a pool of worker processes behind one or more listen sockets,
// and drains them gracefully on shutdown.
//
// Commands:
//
//	(root)    - boot the supervisor
//	__worker  - run as a supervised worker process (internal use)
//	version   - print version information
package main

import (
	"fmt"
	"os"

	"unitgo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
