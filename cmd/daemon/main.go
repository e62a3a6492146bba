package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"devlink/daemon/internal/composition/daemonserver"
	"devlink/daemon/internal/config"
	"devlink/daemon/internal/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenPort := flag.Int("listen-port", 0, "Serve on a loopback TCP port instead of standard streams")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	forwardLogs := flag.Bool("forward-logs", false, "Forward log output to the terminal (TCP mode only)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("devlink-daemon version=%s protocol=%s commit=%s build_date=%s\n",
			version, daemon.ProtocolVersion, commit, buildDate)
		return
	}

	cfg := config.LoadFromPath(*configPath)
	if *listenPort != 0 {
		cfg.Daemon.ListenPort = *listenPort
	}
	if *forwardLogs {
		cfg.Daemon.ForwardLogs = true
	}

	// Standard output may be the protocol channel; diagnostics go to
	// stderr.
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("devlink-daemon starting", "version", version)
	if err := daemonserver.Run(ctx, cfg, log, daemonserver.Options{}); err != nil {
		log.Error("devlink-daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("devlink-daemon stopped")
}
