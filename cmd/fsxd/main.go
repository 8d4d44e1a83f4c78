package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/stratusworks/fsmux/cmd/flags"
	"github.com/stratusworks/fsmux/config"
	"github.com/stratusworks/fsmux/httpserver"
)

func main() {
	app := &cli.App{
		Name:  "fsxd",
		Usage: "Run the filesystem multiplexer agent with its diagnostics API",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				return err
			}

			logger := flags.SetupLogger(cCtx, cfg)

			mux, err := config.BuildMux(cfg, logger)
			if err != nil {
				logger.Error("Failed to build multiplexer", "err", err)
				return err
			}
			logger.Info("Backends registered", "schemes", mux.Schemes())

			serverCfg := flags.ConfigureServer(cCtx, logger, cfg)
			server, err := httpserver.New(serverCfg, httpserver.NewHandler(mux, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()

			if err := mux.CloseAll(); err != nil {
				logger.Error("Failed to close cached backends", "err", err)
			}
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
