// Command scandiff compares two surveys of the same site: it aligns the
// repeat scan onto the reference, measures per-point change, clusters the
// changed regions and keeps a history of runs in SQLite.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
