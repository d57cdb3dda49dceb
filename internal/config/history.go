package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// HistoryConfig holds the settings of the history commands (history, record, clear).
type HistoryConfig struct {
	RPCURL      string
	Token       string
	Source      string
	Limit       int
	Lookback    uint64
	Concurrency int
	RPCRate     float64
	Storage     StorageConfig
	LogLevel    string
}

// LoadHistory merges config file, environment variables, and flags into HistoryConfig.
func LoadHistory(cfgFile string, flags *pflag.FlagSet) (HistoryConfig, error) {
	v := viper.New()
	v.SetDefault("source", "all")
	v.SetDefault("limit", 50)
	v.SetDefault("lookback", uint64(10000))
	v.SetDefault("concurrency", 4)
	v.SetDefault("rpc-rate", 0.0)
	setStorageDefaults(v)

	if err := read(v, cfgFile, flags); err != nil {
		return HistoryConfig{}, err
	}

	cfg := HistoryConfig{
		RPCURL:      v.GetString("rpc"),
		Token:       strings.TrimSpace(v.GetString("token")),
		Source:      strings.ToLower(v.GetString("source")),
		Limit:       v.GetInt("limit"),
		Lookback:    v.GetUint64("lookback"),
		Concurrency: v.GetInt("concurrency"),
		RPCRate:     v.GetFloat64("rpc-rate"),
		Storage:     storageConfig(v),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, cfg.Storage.validate()
}
