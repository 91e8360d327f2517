package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/confidential-athlete-registry/common"
	"github.com/ruteri/confidential-athlete-registry/config"
	"github.com/ruteri/confidential-athlete-registry/relayer"
	"github.com/urfave/cli/v2"
)

// LoadConfig reads the config file and env file named by the flags, then
// applies explicitly set flags on top.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFlag.Name), cCtx.String(EnvFileFlag.Name))
	if err != nil {
		return nil, err
	}

	if cCtx.IsSet(RpcAddrFlag.Name) {
		cfg.RPCURL = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(ContractFlag.Name) {
		cfg.Contract = cCtx.String(ContractFlag.Name)
	}
	if cCtx.IsSet(RelayerURLFlag.Name) {
		cfg.RelayerURL = cCtx.String(RelayerURLFlag.Name)
	}
	if cCtx.IsSet(ChainIDFlag.Name) {
		cfg.ChainID = cCtx.Uint64(ChainIDFlag.Name)
	}
	if cCtx.IsSet(LogJsonFlag.Name) {
		cfg.Log.JSON = cCtx.Bool(LogJsonFlag.Name)
	}
	if cCtx.IsSet(LogDebugFlag.Name) {
		cfg.Log.Debug = cCtx.Bool(LogDebugFlag.Name)
	}
	if cCtx.IsSet(LogServiceFlag.Name) {
		cfg.Log.Service = cCtx.String(LogServiceFlag.Name)
	}
	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.Relayer.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.Relayer.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(PprofFlag.Name) {
		cfg.Relayer.Pprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(StoreFlag.Name) {
		cfg.Relayer.Store = cCtx.String(StoreFlag.Name)
	}
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.Relayer.DrainSeconds = cCtx.Int64(DrainSecondsFlag.Name)
	}
	return cfg, nil
}

func SetupLogger(cCtx *cli.Context, cfg *config.Config) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.Log.Debug,
		JSON:    cfg.Log.JSON,
		Service: cfg.Log.Service,
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cfg *config.Config, logger *slog.Logger) *relayer.HTTPServerConfig {
	return &relayer.HTTPServerConfig{
		ListenAddr:               cfg.Relayer.ListenAddr,
		MetricsAddr:              cfg.Relayer.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.Relayer.Pprof,
		DrainDuration:            time.Duration(cfg.Relayer.DrainSeconds) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to a TOML config file",
}

var EnvFileFlag = &cli.StringFlag{
	Name:  "env-file",
	Usage: "env file to load, defaults to .env when present",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "http://127.0.0.1:8545",
	Usage: "address to connect to RPC",
}

var ContractFlag = &cli.StringFlag{
	Name:  "contract",
	Usage: "athlete registry contract address, 40-char hex string",
}

var RelayerURLFlag = &cli.StringFlag{
	Name:  "relayer-url",
	Value: "http://127.0.0.1:8080",
	Usage: "confidential engine relayer base URL",
}

var ChainIDFlag = &cli.Uint64Flag{
	Name:  "chain-id",
	Usage: "chain id the relayer engine serves",
}

var TimeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 2 * time.Minute,
	Usage: "overall timeout of a command",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var StoreFlag = &cli.StringFlag{
	Name:  "store",
	Value: "memory://",
	Usage: "ciphertext store URI: memory:// or file:///path",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "athlete-registry",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ClientFlags = append([]cli.Flag{
	ConfigFlag,
	EnvFileFlag,
	RpcAddrFlag,
	ContractFlag,
	RelayerURLFlag,
	TimeoutFlag,
}, LogFlags...)

var ServerFlags = append([]cli.Flag{
	ConfigFlag,
	EnvFileFlag,
	ListenAddrFlag,
	ChainIDFlag,
	StoreFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}, LogFlags...)
