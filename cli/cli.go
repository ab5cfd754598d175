// Package cli provides the command-line interface for varhub.
// It exports Run() so wrapper binaries can embed the commands.
package cli

import (
	"fmt"
	"os"
)

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "worker":
		return runWorker(cmdArgs)
	case "help", "-h", "--help":
		printHelp()
		return 0
	case "version", "-v", "--version":
		printVersion()
		return 0
	default:
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp()
		return 1
	}
}

func printHelp() {
	fmt.Println(`varhub coordinator

Usage: varhub [command] [options]

Commands:
  serve           Start the coordinator daemon (default)
  worker          Run a Lua workload against a coordinator

Serve Options:
  --config        TOML config file path
  --host          Listen address (default: 127.0.0.1)
  --port          Listen port (default: 7070)
  --log-level     Log level: debug, info, warn, error
  --pretty        Human-readable console logging

Worker Options:
  --url           Coordinator websocket URL (default: ws://127.0.0.1:7070/ws)
  --script        Lua script to run
  --log-level     Log level: debug, info, warn, error

Examples:
  varhub serve --port 7070
  varhub serve --config varhub.toml
  varhub worker --script tune.lua --url ws://127.0.0.1:7070/ws`)
}

func printVersion() {
	fmt.Println("varhub v0.1.0")
}
