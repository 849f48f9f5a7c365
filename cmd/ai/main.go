// Package main is the single-binary entrypoint for Aide.
// The same executable is the installer, the repair tool, and the
// assistant wrapper the user talks to.
package main

import "github.com/aide-sh/aide/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
