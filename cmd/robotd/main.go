// Command robotd is the robotics peripheral supervisor daemon described
// by spec.md. Flag parsing here follows laitos's main.go
// parse-then-dispatch shape, pared down to the thin CLI surface spec.md
// §6 specifies: the program either runs as the supervisor (the default)
// or, when re-exec'd with the internal run-worker argument, as a single
// worker process reading its device identity from the environment
// (spec.md §9's "spawn a child executable that re-enters with a
// run-worker mode").
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robotd/robotd/internal/config"
	"github.com/robotd/robotd/internal/rlog"
	"github.com/robotd/robotd/internal/statusapi"
	"github.com/robotd/robotd/internal/supervisor"
	"github.com/robotd/robotd/internal/worker"

	// Every concrete driver package registers itself with
	// internal/registry from its own init(); importing for side effect
	// only is the explicit-registration-table equivalent of the
	// metaclass-based auto-registration spec.md §9 asks to be
	// re-architected away from.
	_ "github.com/robotd/robotd/internal/driver/camera"
	_ "github.com/robotd/robotd/internal/driver/game"
	_ "github.com/robotd/robotd/internal/driver/motorboard"
	_ "github.com/robotd/robotd/internal/driver/powerboard"
	_ "github.com/robotd/robotd/internal/driver/servoassembly"
	_ "github.com/robotd/robotd/internal/driver/thermalsensor"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == worker.ChildModeArg {
		if err := worker.RunChild(); err != nil {
			log.Fatalf("robotd: worker exiting: %v", err)
		}
		return
	}

	var rootDir, configPath, statusAddr string
	flag.StringVar(&rootDir, "root-dir", "", "(Optional) socket tree root, overrides the config file and built-in default of "+config.DefaultRootDir)
	flag.StringVar(&configPath, "config", "", "(Optional) path to a TOML configuration file")
	flag.StringVar(&statusAddr, "status-addr", "", "(Optional) address to serve the read-only status/metrics HTTP API on, e.g. 127.0.0.1:8080; disabled when empty")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("robotd: %v", err)
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}

	logger := rlog.Logger{Component: "robotd"}
	sup := supervisor.New(cfg, logger)

	if err := sup.Prepare(); err != nil {
		// Per spec.md §7, failure to create the socket root is the one
		// condition fatal to the supervisor.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.StatusAddr != "" {
		statusSrv := statusapi.New(sup)
		go func() {
			if err := statusSrv.ListenAndServe(cfg.StatusAddr); err != nil {
				logger.Warning("main", cfg.StatusAddr, err, "status API server exited")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("main", "", nil, "received interrupt, shutting down")
		sup.Shutdown()
	}()

	if err := sup.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
