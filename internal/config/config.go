package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage backends for the local history store.
const (
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// StorageConfig selects where history records are kept.
type StorageConfig struct {
	Backend    string
	PebblePath string
	PebbleMB   int64
	PGDSN      string
}

// Config holds the settings of the event commands (fetch, tail, nfts, allowance).
type Config struct {
	RPCURL            string
	Address           string
	Lookback          uint64
	MaxBlockRange     uint64
	Concurrency       int
	RPCRate           float64
	PollInterval      time.Duration
	ABIFiles          []string
	Out               string
	ExportPGDSN       string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         uint64
	MaxRetries        int
	RetryBackoff      time.Duration
	Listen            string
	UpperBound        uint64
	Gateway           string
	MetadataTimeout   time.Duration
	Storage           StorageConfig
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("lookback", uint64(1000))
	v.SetDefault("max-block-range", uint64(5000))
	v.SetDefault("concurrency", 4)
	v.SetDefault("rpc-rate", 0.0)
	v.SetDefault("poll-interval", 3*time.Second)
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("upper-bound", uint64(50))
	v.SetDefault("gateway", "https://ipfs.io/ipfs/")
	v.SetDefault("metadata-timeout", 10*time.Second)
	setStorageDefaults(v)

	if err := read(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		Address:           strings.TrimSpace(v.GetString("address")),
		Lookback:          v.GetUint64("lookback"),
		MaxBlockRange:     v.GetUint64("max-block-range"),
		Concurrency:       v.GetInt("concurrency"),
		RPCRate:           v.GetFloat64("rpc-rate"),
		PollInterval:      v.GetDuration("poll-interval"),
		ABIFiles:          getStringSlice(v, "abi-file"),
		Out:               v.GetString("out"),
		ExportPGDSN:       v.GetString("export-pg-dsn"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		BatchSize:         v.GetUint64("batch-size"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Listen:            v.GetString("listen"),
		UpperBound:        v.GetUint64("upper-bound"),
		Gateway:           v.GetString("gateway"),
		MetadataTimeout:   v.GetDuration("metadata-timeout"),
		Storage:           storageConfig(v),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, cfg.Storage.validate()
}

func setStorageDefaults(v *viper.Viper) {
	v.SetDefault("storage", BackendPebble)
	v.SetDefault("data-dir", "./data/history")
	v.SetDefault("cache-mb", int64(8))
	v.SetDefault("log-level", "info")
}

func storageConfig(v *viper.Viper) StorageConfig {
	return StorageConfig{
		Backend:    strings.ToLower(v.GetString("storage")),
		PebblePath: v.GetString("data-dir"),
		PebbleMB:   v.GetInt64("cache-mb"),
		PGDSN:      v.GetString("pg-dsn"),
	}
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case BackendPebble:
		if s.PebblePath == "" {
			return fmt.Errorf("data-dir is required for the pebble backend")
		}
	case BackendPostgres:
		if s.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	return nil
}

func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("TRACER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
