// Package config loads the node's runtime configuration: a config struct
// populated by viper from a file, environment variables, and pflag
// command-line overrides, in that precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete node configuration.
type Config struct {
	NodeName string `mapstructure:"node_name"`

	ListenAddr       string        `mapstructure:"listen_addr"`
	SchedulerWorkers int           `mapstructure:"scheduler_workers"`
	DefaultBudget    int           `mapstructure:"default_budget"`
	DefaultUserCap   int           `mapstructure:"default_user_cap"`
	ShardCount       int           `mapstructure:"shard_count"`
	ResolveTTL       time.Duration `mapstructure:"resolve_ttl"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeoutX int           `mapstructure:"heartbeat_timeout_multiple"`

	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	Consul struct {
		Addr        string `mapstructure:"addr"`
		ServiceName string `mapstructure:"service_name"`
		Enabled     bool   `mapstructure:"enabled"`
	} `mapstructure:"consul"`

	AMQP struct {
		URL     string `mapstructure:"url"`
		Enabled bool   `mapstructure:"enabled"`
	} `mapstructure:"amqp"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_name", "node-1")
	v.SetDefault("listen_addr", "")
	v.SetDefault("scheduler_workers", 0)
	v.SetDefault("default_budget", 200)
	v.SetDefault("default_user_cap", 1024)
	v.SetDefault("shard_count", 16)
	v.SetDefault("resolve_ttl", 30*time.Second)
	v.SetDefault("heartbeat_interval", 5*time.Second)
	v.SetDefault("heartbeat_timeout_multiple", 3)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.addr", "127.0.0.1:8500")
	v.SetDefault("consul.service_name", "actorcore")
	v.SetDefault("amqp.enabled", false)
	v.SetDefault("log_level", "info")
}

// Load builds a Config from (in ascending priority) defaults, an optional
// config file, ACTORCORE_-prefixed environment variables, and flags
// already parsed into fs.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("actorcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Flags registers the command-line overrides Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("actorcore", pflag.ContinueOnError)
	fs.String("node_name", "node-1", "logical name of this node")
	fs.String("listen_addr", "", "cluster inbound listen address (empty disables clustering)")
	fs.String("http_addr", ":8080", "HTTP control-surface listen address")
	fs.String("grpc_addr", ":9090", "gRPC control-surface listen address")
	fs.String("log_level", "info", "slog level: debug, info, warn, error")
	fs.Bool("consul.enabled", false, "enable Consul-backed peer discovery")
	fs.String("consul.addr", "127.0.0.1:8500", "Consul HTTP API address")
	fs.Bool("amqp.enabled", false, "enable the AMQP cluster control-plane bus")
	fs.String("amqp.url", "", "AMQP broker URL")
	return fs
}
