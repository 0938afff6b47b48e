package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type (
	Config struct {
		Server   Server
		Database Database
		Daemon   Daemon
	}

	// Server is the remote account/catalog service.
	Server struct {
		BaseURL string
	}

	Database struct {
		Path string
	}

	Daemon struct {
		Listen         string
		UpdateSchedule string // cron format, "" disables the scheduled refresh
		SyncSchedule   string // cron format, "" disables the scheduled sync
		LogFile        string // "" logs to stderr
	}
)

// Load reads ~/.mangasync/config.yaml when present and applies
// MANGASYNC_* environment overrides on top of the defaults.
func Load() (Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	base := filepath.Join(home, ".mangasync")

	v.SetDefault("server.baseurl", "https://api.example.com")
	v.SetDefault("database.path", filepath.Join(base, "data.db"))
	v.SetDefault("daemon.listen", "127.0.0.1:8484")
	v.SetDefault("daemon.updateschedule", "@every 6h")
	v.SetDefault("daemon.syncschedule", "@every 30m")
	v.SetDefault("daemon.logfile", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(base)

	v.SetEnvPrefix("MANGASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
