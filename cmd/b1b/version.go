package main

import "fmt"

// version, gitCommit and buildDate are set at build time via
// -ldflags="-X main.version=v1.0.0 -X main.gitCommit=abc1234
//            -X main.buildDate=2026-02-22T12:00:00Z".
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// versionString returns the human-readable multi-line string printed by
// the version subcommand.
func versionString(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s", binary, version, gitCommit, buildDate)
}
