// Package config loads CLI configuration from a TOML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// Environment variables read by Load.
const (
	EnvPrivateKey  = "ATHLETE_PRIVATE_KEY"
	EnvRPCURL      = "ATHLETE_RPC_URL"
	EnvChainID     = "ATHLETE_CHAIN_ID"
	EnvContract    = "ATHLETE_CONTRACT"
	EnvRelayerURL  = "ATHLETE_RELAYER_URL"
	EnvRelayerSeed = "ATHLETE_RELAYER_SEED"
)

// Duration is a time.Duration written as a string in TOML ("1s", "24h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Engine struct {
	StabilizationDelay Duration `toml:"stabilization_delay"`
}

type Authorization struct {
	TTL Duration `toml:"ttl"`
}

type Relayer struct {
	ListenAddr   string `toml:"listen_addr"`
	MetricsAddr  string `toml:"metrics_addr"`
	DrainSeconds int64  `toml:"drain_seconds"`
	Pprof        bool   `toml:"pprof"`

	// Store is the ciphertext store URI, memory:// or file:///path.
	Store string `toml:"store"`

	// Seed is the hex-encoded key seed of the relayer's local engine.
	Seed string `toml:"-"`
}

type Log struct {
	Debug   bool   `toml:"debug"`
	JSON    bool   `toml:"json"`
	Service string `toml:"service"`
}

// Config is the full client and relayer configuration.
type Config struct {
	RPCURL     string `toml:"rpc_url"`
	ChainID    uint64 `toml:"chain_id"`
	Contract   string `toml:"contract"`
	RelayerURL string `toml:"relayer_url"`

	// PrivateKey is only ever read from the environment.
	PrivateKey string `toml:"-"`

	Engine        Engine        `toml:"engine"`
	Authorization Authorization `toml:"authorization"`
	Relayer       Relayer       `toml:"relayer"`
	Log           Log           `toml:"log"`
}

// Default returns the configuration used for anything Load does not set.
func Default() *Config {
	return &Config{
		RPCURL:        "http://127.0.0.1:8545",
		RelayerURL:    "http://127.0.0.1:8080",
		Engine:        Engine{StabilizationDelay: Duration{time.Second}},
		Authorization: Authorization{TTL: Duration{24 * time.Hour}},
		Relayer: Relayer{
			ListenAddr:   "127.0.0.1:8080",
			MetricsAddr:  "127.0.0.1:8090",
			DrainSeconds: 45,
			Store:        "memory://",
		},
		Log: Log{Service: "athlete-registry"},
	}
}

// Load reads path (optional), then envFile (optional, defaults to .env when
// present) and finally the process environment.
func Load(path string, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("could not parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotenv loads envFile without overriding variables already set. A
// missing default .env is not an error; a missing explicit file is.
func loadDotenv(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("could not read env file: %w", err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("could not load env file %s: %w", envFile, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrivateKey); ok {
		c.PrivateKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvRPCURL); ok {
		c.RPCURL = v
	}
	if v, ok := lookup(EnvChainID); ok {
		chainID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvChainID, err)
		}
		c.ChainID = chainID
	}
	if v, ok := lookup(EnvContract); ok {
		c.Contract = v
	}
	if v, ok := lookup(EnvRelayerURL); ok {
		c.RelayerURL = v
	}
	if v, ok := lookup(EnvRelayerSeed); ok {
		c.Relayer.Seed = strings.TrimSpace(v)
	}
	return nil
}

// ContractAddress parses Contract.
func (c *Config) ContractAddress() (common.Address, error) {
	if c.Contract == "" {
		return common.Address{}, errors.New("contract address is not configured")
	}
	return interfaces.ParseAddress(c.Contract)
}

// ValidateClient checks what the athlete CLI needs.
func (c *Config) ValidateClient() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.RelayerURL == "" {
		return errors.New("relayer_url is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%s is not set", EnvPrivateKey)
	}
	if _, err := c.ContractAddress(); err != nil {
		return err
	}
	if c.Authorization.TTL.Duration <= 0 {
		return errors.New("authorization ttl must be positive")
	}
	return nil
}
