package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the server
// components.
type Config struct {
	// Hostname or IP address on which the lobby will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Lobby struct {
		// Port on which the lobby accepts players. 0 lets the OS choose one.
		Port int `mapstructure:"port"`
		// How often waiting players are probed to see if they're still connected.
		PollInterval time.Duration `mapstructure:"poll_interval"`
		// Number of players per session. 0 uses the game's own player count.
		PlayerCount int `mapstructure:"player_count"`
		// Maximum number of players allowed to sit in the lobby at once. 0 is unlimited.
		MaxWaiting int `mapstructure:"max_waiting"`
		// How long a new connection has to send its name before it's dropped.
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
		// Accepted connections per second and burst size. 0 disables throttling.
		AcceptRate  float64 `mapstructure:"accept_rate"`
		AcceptBurst int     `mapstructure:"accept_burst"`
	} `mapstructure:"lobby"`

	Game struct {
		// Name of the game played by every session (e.g. "rps").
		Name string `mapstructure:"name"`
	} `mapstructure:"game"`

	Results struct {
		// How long the outcome of a finished session is kept around.
		TTL time.Duration `mapstructure:"ttl"`
		// How often expired outcomes are purged.
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"results"`

	Debugging struct {
		// Enable the pprof HTTP server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which the pprof server will be started if enabled.
		PprofPort int `mapstructure:"pprof_port"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "PARLOR"

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file_path", "")
	v.SetDefault("lobby.port", 12345)
	v.SetDefault("lobby.poll_interval", 500*time.Millisecond)
	v.SetDefault("lobby.player_count", 0)
	v.SetDefault("lobby.max_waiting", 0)
	v.SetDefault("lobby.handshake_timeout", 30*time.Second)
	v.SetDefault("lobby.accept_rate", 0)
	v.SetDefault("lobby.accept_burst", 1)
	v.SetDefault("game.name", "rps")
	v.SetDefault("results.ttl", time.Hour)
	v.SetDefault("results.cleanup_interval", 10*time.Minute)
	v.SetDefault("debugging.pprof_enabled", false)
	v.SetDefault("debugging.pprof_port", 6060)
}

// LoadConfig reads config.yaml from configPath (if there is one), applies any
// PARLOR_* environment overrides and any flags bound from the command line.
// Unlike the file itself, flags and defaults are always available so a
// missing config file is not an error.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, lobby.port can be set using: <envVarPrefix>_LOBBY_PORT
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

// ListenAddress returns the host:port pair the lobby should bind to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Lobby.Port)
}
