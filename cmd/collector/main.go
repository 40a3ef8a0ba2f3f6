package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dephy-io/dephy-sensor-node/archive"
	"github.com/dephy-io/dephy-sensor-node/cmd/flags"
	"github.com/dephy-io/dephy-sensor-node/httpserver"
	"github.com/urfave/cli/v2"
)

var collectorFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:    "archive-dsn",
		EnvVars: []string{"DEPHY_ARCHIVE_DSN"},
		Value:   "collector.db",
		Usage:   "SQLite database for accepted messages; empty runs verify-only",
	},
	&cli.Float64Flag{
		Name:  "sender-rps",
		Value: 1,
		Usage: "messages per second allowed per sender; 0 disables rate limiting",
	},
	&cli.IntFlag{
		Name:  "sender-burst",
		Value: 10,
		Usage: "burst size of the per-sender rate limit",
	},
	flags.LogServiceFlagFn("dephy-collector"),
}

func main() {
	app := &cli.App{
		Name:  "collector",
		Usage: "Verify and archive signed messages from DePHY sensor nodes",
		Flags: append(collectorFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			archiveDSN := cCtx.String("archive-dsn")

			logger := flags.SetupLogger(cCtx)

			// Open the archive
			var store httpserver.Archive
			if archiveDSN != "" {
				db, err := archive.Open(archiveDSN, logger)
				if err != nil {
					logger.Error("Failed to open archive", "dsn", archiveDSN, "err", err)
					return err
				}
				defer db.Close()
				store = db
			} else {
				logger.Warn("No archive configured, running verify-only")
			}

			limiter := httpserver.NewSenderLimiter(cCtx.Float64("sender-rps"), cCtx.Int("sender-burst"), 10*time.Minute)
			handler := httpserver.NewHandler(store, limiter, logger)

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
