package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values for the run command, loaded from flags,
// env (LOGSIFT_*), or config file.
type Config struct {
	Brokers []string
	Tenants []string

	Concurrency       int
	QueueCapacity     int
	EnqueueWait       time.Duration
	FlushInterval     time.Duration
	DrainMax          int
	ShutdownGrace     time.Duration
	BackpressureRatio float64
	BackpressurePause time.Duration

	ElasticURL      string
	ElasticUsername string
	ElasticPassword string

	AdminURL        string
	IndexMapRefresh time.Duration

	PgDSN   string
	Archive bool

	HostLookup bool
	LogPattern string

	SASLUsername  string
	SASLPassword  string
	SASLMechanism string

	AlertEnabled       bool
	AlertIndex         string
	AlertWindowMinutes int
	AlertThreshold     int64
	AlertWebhookURL    string

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("concurrency", 3)
	v.SetDefault("queue-capacity", 100000)
	v.SetDefault("enqueue-wait", 50*time.Millisecond)
	v.SetDefault("flush-interval", 500*time.Millisecond)
	v.SetDefault("drain-max", 1000)
	v.SetDefault("shutdown-grace", 5*time.Second)
	v.SetDefault("backpressure-ratio", 0.9)
	v.SetDefault("backpressure-pause", 500*time.Millisecond)
	v.SetDefault("elastic-url", "http://localhost:9200")
	v.SetDefault("index-map-refresh", 5*time.Minute)
	v.SetDefault("alert-window-minutes", 10)
	v.SetDefault("alert-threshold", 100)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Brokers:            getStringSlice(v, "brokers"),
		Tenants:            getStringSlice(v, "tenants"),
		Concurrency:        v.GetInt("concurrency"),
		QueueCapacity:      v.GetInt("queue-capacity"),
		EnqueueWait:        v.GetDuration("enqueue-wait"),
		FlushInterval:      v.GetDuration("flush-interval"),
		DrainMax:           v.GetInt("drain-max"),
		ShutdownGrace:      v.GetDuration("shutdown-grace"),
		BackpressureRatio:  v.GetFloat64("backpressure-ratio"),
		BackpressurePause:  v.GetDuration("backpressure-pause"),
		ElasticURL:         v.GetString("elastic-url"),
		ElasticUsername:    v.GetString("elastic-username"),
		ElasticPassword:    v.GetString("elastic-password"),
		AdminURL:           v.GetString("admin-url"),
		IndexMapRefresh:    v.GetDuration("index-map-refresh"),
		PgDSN:              v.GetString("pg-dsn"),
		Archive:            v.GetBool("archive"),
		HostLookup:         v.GetBool("host-lookup"),
		LogPattern:         v.GetString("log-pattern"),
		SASLUsername:       v.GetString("sasl-username"),
		SASLPassword:       v.GetString("sasl-password"),
		SASLMechanism:      v.GetString("sasl-mechanism"),
		AlertEnabled:       v.GetBool("alert-enabled"),
		AlertIndex:         v.GetString("alert-index"),
		AlertWindowMinutes: v.GetInt("alert-window-minutes"),
		AlertThreshold:     v.GetInt64("alert-threshold"),
		AlertWebhookURL:    v.GetString("alert-webhook-url"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
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
