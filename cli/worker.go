package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/varhub/varhub/internal/logging"
	"github.com/varhub/varhub/internal/luaworker"
	varbridge "github.com/varhub/varhub/lib/go"
)

// runWorker connects a Lua workload to a running coordinator.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	url := fs.String("url", "ws://127.0.0.1:7070/ws", "coordinator websocket URL")
	script := fs.String("script", "", "Lua script to run")
	logLevel := fs.String("log-level", "info", "log level")
	pretty := fs.Bool("pretty", false, "human-readable console logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *script == "" {
		fmt.Fprintln(os.Stderr, "worker: --script is required")
		return 1
	}

	log := logging.New(*logLevel, *pretty)

	// The script name doubles as the consumption site on usage records.
	bridge, err := varbridge.Dial(varbridge.Config{
		URL:  *url,
		Site: filepath.Base(*script),
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("connect failed")
		return 1
	}
	defer bridge.Close()

	worker := luaworker.New(bridge, log)
	defer worker.Close()

	if err := worker.RunFile(*script); err != nil {
		log.Error().Err(err).Str("script", *script).Msg("workload failed")
		return 1
	}
	return 0
}
