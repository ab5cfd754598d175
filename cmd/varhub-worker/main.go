// Package main runs a Lua workload against a coordinator. It is the
// "worker" subcommand as a standalone binary for deployments that keep
// the daemon and workloads on separate hosts.
package main

import (
	"os"

	"github.com/varhub/varhub/cli"
)

func main() {
	os.Exit(cli.Run(append([]string{"worker"}, os.Args[1:]...)))
}
