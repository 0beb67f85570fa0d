package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ParseConfig holds configuration for the offline parse command.
type ParseConfig struct {
	In         string
	Out        string
	BatchSize  int
	LogPattern string
	LogLevel   string
}

// LoadParse merges config file, environment variables, and flags into ParseConfig.
func LoadParse(cfgFile string, flags *pflag.FlagSet) (ParseConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("out", "./data/parsed_logs.jsonl")
	v.SetDefault("batch-size", 500)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return ParseConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return ParseConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return ParseConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := ParseConfig{
		In:         v.GetString("in"),
		Out:        v.GetString("out"),
		BatchSize:  v.GetInt("batch-size"),
		LogPattern: v.GetString("log-pattern"),
		LogLevel:   v.GetString("log-level"),
	}

	return cfg, nil
}
