package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/confidential-athlete-registry/cmd/flags"
	"github.com/ruteri/confidential-athlete-registry/engine"
	"github.com/ruteri/confidential-athlete-registry/relayer"
	"github.com/ruteri/confidential-athlete-registry/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Serve a local confidential engine over HTTP",
		Flags: flags.ServerFlags,
		Action: func(cCtx *cli.Context) error {
			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				return err
			}
			logger := flags.SetupLogger(cCtx, cfg)

			if cfg.ChainID == 0 {
				logger.Error("chain-id is required")
				return errors.New("chain-id is required")
			}
			if cfg.Relayer.Seed == "" {
				logger.Error("ATHLETE_RELAYER_SEED is required")
				return errors.New("ATHLETE_RELAYER_SEED is required")
			}

			seed, err := hexutil.Decode(cfg.Relayer.Seed)
			if err != nil || len(seed) != 32 {
				logger.Error("Invalid relayer seed - must be 0x-prefixed 64 hex chars (32 bytes)", "err", err)
				return fmt.Errorf("invalid relayer seed: %v", err)
			}

			store, err := storage.New(cfg.Relayer.Store, logger)
			if err != nil {
				logger.Error("Failed to open ciphertext store", "err", err)
				return err
			}

			eng, err := engine.NewLocalEngineWithStore(cfg.ChainID, seed, nil, store)
			if err != nil {
				logger.Error("Failed to create engine", "err", err)
				return err
			}
			logger.Info("Local engine initialized", "chain_id", cfg.ChainID, "store", store.Name())

			handler := relayer.NewHandler(eng, cfg.ChainID, logger)
			server, err := relayer.New(flags.ConfigureServer(cfg, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listen_addr", cfg.Relayer.ListenAddr)
			server.RunInBackground()

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
