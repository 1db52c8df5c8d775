// Command mongoreplicate runs a one-way MongoDB replication job: clone
// every in-scope namespace, then tail the source oplog, per spec.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mongoreplicate/mongoreplicate/internal/config"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/orchestrator"
	"github.com/mongoreplicate/mongoreplicate/internal/runtime"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code, per spec.md §6: 0 when the run ends
// without error (oplog_end reached, or a clean stop on SIGINT/SIGTERM),
// -1 on any fatal error (modelled here as 1, the closest a process can return
// through os.Exit on platforms that reject negative codes).
func run(argv []string) int {
	cfgPath, rest := stripConfigFlag(argv)

	opts, err := config.Load(rest, cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongoreplicate: %v\n", err)
		return 1
	}

	if err := log.Init(log.ParseLevel(opts.LogLevel), opts.LogDir, "mongoreplicate"); err != nil {
		fmt.Fprintf(os.Stderr, "mongoreplicate: init log: %v\n", err)
		return 1
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(signalCtx, "main")
	defer rt.Close()

	o := orchestrator.New(opts, rt.Logger)
	o.RunID = rt.RunID
	rt.Logger.Info("starting run %s", rt.RunID)

	if err := o.Run(rt.Context()); err != nil {
		rt.Logger.Fatal("run %s failed: %v", rt.RunID, err)
		return 1
	}

	rt.Logger.Info("run %s finished cleanly", rt.RunID)
	return 0
}

// stripConfigFlag pulls "-c <path>"/"--c=<path>" out of argv ahead of the
// full kingpin parse in config.parseFlags, which does not itself
// recognise -c: the config file (if any) must be resolved first, and the
// remaining tokens handed on as the flag overlay.
func stripConfigFlag(argv []string) (path string, rest []string) {
	rest = make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "-c" || arg == "--c":
			if i+1 < len(argv) {
				path = argv[i+1]
				i++
			}
		case strings.HasPrefix(arg, "-c="), strings.HasPrefix(arg, "--c="):
			path = arg[strings.IndexByte(arg, '=')+1:]
		default:
			rest = append(rest, arg)
		}
	}
	return path, rest
}
