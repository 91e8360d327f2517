package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/confidential-athlete-registry/authcache"
	"github.com/ruteri/confidential-athlete-registry/cmd/flags"
	"github.com/ruteri/confidential-athlete-registry/engine"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/ledger"
	"github.com/ruteri/confidential-athlete-registry/relayer"
	"github.com/ruteri/confidential-athlete-registry/session"
	"github.com/ruteri/confidential-athlete-registry/workflow"
	"github.com/urfave/cli/v2"
)

var flagName = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "athlete name",
}
var flagAge = &cli.StringFlag{
	Name:     "age",
	Required: true,
	Usage:    "athlete age in years",
}
var flagContact = &cli.StringFlag{
	Name:     "contact",
	Required: true,
	Usage:    "athlete contact number, digits only",
}
var flagCategory = &cli.StringFlag{
	Name:     "category",
	Required: true,
	Usage:    "sport category: Individual, Team, Endurance, Combat or Other",
}

// client is one connected wallet session with both workflows attached.
type client struct {
	log          *slog.Logger
	eth          *ethclient.Client
	provider     *session.Provider
	lifecycle    *engine.Lifecycle
	auths        *authcache.Cache
	registration *workflow.RegistrationWorkflow
	decryption   *workflow.DecryptionWorkflow
	closers      []func()
}

func (c *client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func connect(ctx context.Context, cCtx *cli.Context) (*client, error) {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	logger := flags.SetupLogger(cCtx, cfg)

	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	contract, err := cfg.ContractAddress()
	if err != nil {
		return nil, err
	}
	signer, err := session.NewKeySignerFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to Ethereum RPC", "address", cfg.RPCURL)
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		logger.Error("Failed to dial RPC", "err", err)
		return nil, err
	}
	c := &client{log: logger, eth: eth}
	c.closers = append(c.closers, eth.Close)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("could not fetch chain id: %w", err)
	}
	if cfg.ChainID != 0 && cfg.ChainID != chainID.Uint64() {
		c.Close()
		return nil, fmt.Errorf("rpc serves chain %d, configured %d", chainID.Uint64(), cfg.ChainID)
	}

	c.provider = session.NewProvider(logger)
	c.lifecycle = engine.NewLifecycle(c.provider, relayer.NewFactory(cfg.RelayerURL, nil), engine.Config{
		StabilizationDelay: cfg.Engine.StabilizationDelay.Duration,
		Log:                logger,
	})
	c.closers = append(c.closers, c.lifecycle.Close)

	c.auths = authcache.New(authcache.Config{TTL: cfg.Authorization.TTL.Duration, Log: logger})
	c.closers = append(c.closers, c.auths.Bind(c.provider))

	ledgers := ledger.NewLedgerFactory(contract, logger)
	c.registration = workflow.NewRegistrationWorkflow(c.provider, c.lifecycle, ledgers, logger)
	c.closers = append(c.closers, c.registration.Close)
	c.decryption = workflow.NewDecryptionWorkflow(c.provider, c.lifecycle, ledgers, c.auths, logger)
	c.closers = append(c.closers, c.decryption.Close)

	if err := c.provider.Connect(signer, chainID.Uint64(), eth); err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, c.provider.Disconnect)

	logger.Info("Waiting for confidential engine", "account", signer.Address().Hex(), "chain_id", chainID.Uint64())
	if _, err := c.lifecycle.WaitReady(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// withClient runs fn with a connected client under the command timeout.
func withClient(fn func(ctx context.Context, cCtx *cli.Context, c *client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flags.TimeoutFlag.Name))
		defer cancel()

		c, err := connect(ctx, cCtx)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, cCtx, c)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func register(ctx context.Context, cCtx *cli.Context, c *client) error {
	category, err := interfaces.ParseSportCategory(cCtx.String(flagCategory.Name))
	if err != nil {
		return err
	}

	if _, err := c.registration.SyncRegistration(ctx); err != nil {
		return err
	}

	err = c.registration.RegisterAthlete(ctx, workflow.RegistrationForm{
		Name:     cCtx.String(flagName.Name),
		Age:      cCtx.String(flagAge.Name),
		Contact:  cCtx.String(flagContact.Name),
		Category: category,
	})
	if err != nil {
		return err
	}

	status := c.registration.Status()
	return printJSON(map[string]any{
		"state":      status.State.String(),
		"registered": status.IsRegistered,
		"owner":      status.Owner.Hex(),
		"tx_hash":    status.TxHash.Hex(),
		"message":    status.Message,
	})
}

func status(ctx context.Context, _ *cli.Context, c *client) error {
	if err := c.decryption.RefreshAthleteInfo(ctx); err != nil {
		return err
	}
	st := c.decryption.Status()
	if st.Record == nil {
		return printJSON(map[string]any{"registered": false})
	}
	return printJSON(map[string]any{
		"registered": true,
		"record":     st.Record,
		"category":   st.Record.Category.String(),
	})
}

func decrypt(ctx context.Context, _ *cli.Context, c *client) error {
	if err := c.decryption.RefreshAthleteInfo(ctx); err != nil {
		return err
	}
	record, err := c.decryption.DecryptAthleteInfo(ctx)
	if err != nil {
		return err
	}
	return printJSON(record)
}

func checkAge(ctx context.Context, cCtx *cli.Context, c *client) error {
	category, err := interfaces.ParseSportCategory(cCtx.String(flagCategory.Name))
	if err != nil {
		return err
	}
	if err := c.decryption.RefreshAthleteInfo(ctx); err != nil {
		return err
	}
	eligible, err := c.decryption.CheckAgeRequirement(ctx, category)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"category": category.String(),
		"min_age":  category.MinAge(),
		"eligible": eligible,
	})
}

func main() {
	app := &cli.App{
		Name:  "athlete",
		Usage: "Register athletes with encrypted personal data and decrypt your own record",
		Flags: flags.ClientFlags,
		Commands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "encrypt and submit a registration for the configured account",
				Flags:  []cli.Flag{flagName, flagAge, flagContact, flagCategory},
				Action: withClient(register),
			},
			{
				Name:   "status",
				Usage:  "show the encrypted record of the configured account",
				Action: withClient(status),
			},
			{
				Name:   "decrypt",
				Usage:  "decrypt the configured account's record",
				Action: withClient(decrypt),
			},
			{
				Name:   "check-age",
				Usage:  "check the decrypted age against a category's minimum",
				Flags:  []cli.Flag{flagCategory},
				Action: withClient(checkAge),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
