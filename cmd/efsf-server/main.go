package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/cmd/flags"
	"github.com/efsf/efsf-go/cryptoutils"
	"github.com/efsf/efsf-go/httpserver"
	"github.com/efsf/efsf-go/record"
	"github.com/efsf/efsf-go/storage"
	"github.com/efsf/efsf-go/store"
)

var serverFlags []cli.Flag = []cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.BackendFlag,
	flags.MasterKeyFlag,
	flags.AuthoritySeedFlag,
	flags.AuthorityIDFlag,
	flags.DefaultClassificationFlag,
	flags.SweepIntervalFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:  "efsf-server",
		Usage: "Serve the ephemeral record API with crypto-shredding and destruction attestation",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			// Crypto provider, optionally seeded with a stable master key
			var crypto *cryptoutils.CryptoProvider
			if masterKeyHex := cCtx.String(flags.MasterKeyFlag.Name); masterKeyHex != "" {
				masterKey, err := hex.DecodeString(masterKeyHex)
				if err != nil {
					logger.Error("Invalid master-key", "err", err)
					return fmt.Errorf("invalid master-key: %w", err)
				}
				crypto, err = cryptoutils.NewCryptoProvider(masterKey, nil)
				if err != nil {
					logger.Error("Failed to create crypto provider", "err", err)
					return err
				}
			}

			// Attestation authority, optionally restored from a seed
			authorityID := cCtx.String(flags.AuthorityIDFlag.Name)
			var authority *attestation.AttestationAuthority
			var err error
			if seedHex := cCtx.String(flags.AuthoritySeedFlag.Name); seedHex != "" {
				seed, derr := hex.DecodeString(seedHex)
				if derr != nil {
					logger.Error("Invalid authority-seed", "err", derr)
					return fmt.Errorf("invalid authority-seed: %w", derr)
				}
				authority, err = attestation.NewAttestationAuthorityFromSeed(authorityID, seed, nil)
			} else {
				authority, err = attestation.NewAttestationAuthority(authorityID, nil)
			}
			if err != nil {
				logger.Error("Failed to create attestation authority", "err", err)
				return err
			}
			logger.Info("Attestation authority ready", "authorityID", authority.AuthorityID)

			// Storage backend from URI
			backendURI := cCtx.String(flags.BackendFlag.Name)
			backend, err := storage.NewFactory(logger, nil).BackendFor(backendURI)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err, "uri", backendURI)
				return err
			}
			logger.Info("Storage backend ready", "backend", backend.Name())

			classification, err := record.ParseClassification(cCtx.String(flags.DefaultClassificationFlag.Name))
			if err != nil {
				logger.Error("Invalid default-classification", "err", err)
				return err
			}

			ephemeralStore, err := store.New(store.Config{
				Backend:               backend,
				Crypto:                crypto,
				Authority:             authority,
				DefaultClassification: classification,
				Log:                   logger,
			})
			if err != nil {
				logger.Error("Failed to create store", "err", err)
				return err
			}

			if interval := cCtx.Duration(flags.SweepIntervalFlag.Name); interval > 0 {
				ephemeralStore.StartReaper(interval)
				logger.Info("Reaper started", "interval", interval)
			}

			cfg := flags.ConfigureServer(cCtx, logger)
			server, err := httpserver.New(cfg, ephemeralStore)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			if err := ephemeralStore.Close(); err != nil {
				logger.Error("Store shutdown failed", "err", err)
			}
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
