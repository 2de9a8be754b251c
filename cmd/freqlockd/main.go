// Package main is the single-binary entrypoint for freqlockd.
// The same binary runs the daemon ("serve") and the client commands.
package main

import "github.com/xtrakernel/freqlockd/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
