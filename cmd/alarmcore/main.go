package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"alarmcore/internal/app"
	"alarmcore/internal/clock"
	"alarmcore/internal/config"
)

// main starts the alarm service using file or directory config source.
// Params: CLI flags (--config-file or --config-dir).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
		checkOnly  = flag.Bool("check", false, "validate config and rules document, then exit")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if *checkOnly {
		if err := app.Check(source); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "config check failed:", err.Error())
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(os.Stdout, "config ok")
		return
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
