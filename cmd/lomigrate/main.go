// Command lo-migrate moves blobs out of a Postgres Large Object store and
// into an S3-compatible object store, re-keying each from its legacy SHA-1
// hash to a freshly computed SHA-256 hash.
package main

import (
	"fmt"
	"os"

	"github.com/pgerber/lo-migrate/cmd/lomigrate/commands"
)

// Build-time variables injected via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if commands.IsInterrupted(err) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
