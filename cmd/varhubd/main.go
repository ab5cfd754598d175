// Package main is the entry point for the varhub coordinator daemon.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/varhub/varhub/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
