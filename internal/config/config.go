// Package config loads pusherkit CLI configuration from flags, environment
// variables, and config files.
package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riverline/pusherkit/pkg/pusher"
)

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Client        ClientConfig        `mapstructure:"client"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AppConfig holds the Channels application credentials and endpoint settings.
type AppConfig struct {
	ID      string `mapstructure:"id"`
	Key     string `mapstructure:"key"`
	Secret  string `mapstructure:"secret"`
	Cluster string `mapstructure:"cluster"`
	Host    string `mapstructure:"host"`
	UseTLS  bool   `mapstructure:"use_tls"`
}

// ClientConfig holds connection tuning knobs.
type ClientConfig struct {
	ActivityTimeout   time.Duration `mapstructure:"activity_timeout"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	ReconnectInitial  time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.id", "")
	v.SetDefault("app.key", "")
	v.SetDefault("app.secret", "")
	v.SetDefault("app.cluster", "mt1")
	v.SetDefault("app.host", "")
	v.SetDefault("app.use_tls", true)

	v.SetDefault("client.activity_timeout", 120*time.Second)
	v.SetDefault("client.pong_timeout", 30*time.Second)
	v.SetDefault("client.reconnect_initial", time.Second)
	v.SetDefault("client.reconnect_max", 30*time.Second)
	v.SetDefault("client.reconnect_attempts", 6)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "auto")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "pusherkit")
	v.SetDefault("observability.service_version", "dev")
}

// BindCommonFlags binds the flags shared by all commands to viper.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("app-id", "", "application ID")
	f.String("key", "", "application key")
	f.String("secret", "", "application secret")
	f.String("cluster", "", "cluster name (default mt1)")
	f.String("host", "", "websocket host override")
	f.String("config", "", "config file path")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address")

	_ = v.BindPFlag("app.id", f.Lookup("app-id"))
	_ = v.BindPFlag("app.key", f.Lookup("key"))
	_ = v.BindPFlag("app.secret", f.Lookup("secret"))
	_ = v.BindPFlag("app.cluster", f.Lookup("cluster"))
	_ = v.BindPFlag("app.host", f.Lookup("host"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
}

// Load reads config from flags, env, and file, returning the merged Config.
// Environment variables use the PUSHER prefix (e.g. PUSHER_APP_KEY).
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("PUSHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pusherkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pusherkit")
		v.AddConfigPath("/etc/pusherkit")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PusherConfig converts the app section into a pusher.Config.
func (c Config) PusherConfig() pusher.Config {
	return pusher.Config{
		AppID:     c.App.ID,
		AppKey:    c.App.Key,
		AppSecret: c.App.Secret,
		Cluster:   c.App.Cluster,
		Host:      c.App.Host,
		UseTLS:    c.App.UseTLS,
	}
}

// ReconnectPolicy converts the client section into a pusher.ReconnectPolicy.
func (c Config) ReconnectPolicy() pusher.ReconnectPolicy {
	return pusher.ReconnectPolicy{
		InitialDelay: c.Client.ReconnectInitial,
		MaxDelay:     c.Client.ReconnectMax,
		MaxAttempts:  c.Client.ReconnectAttempts,
	}
}
