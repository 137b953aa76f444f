package config

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string, searchPaths ...string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.shutdownTimeout", "5s")
	v.SetDefault("server.flushTimeout", "3s")
	v.SetDefault("auth.mode", AuthModeStrict)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.cookieName", "session-token")
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.sendBuffer", 64)
	v.SetDefault("persistence.driver", DriverJSON)
	v.SetDefault("persistence.path", "active_songs.json")
	v.SetDefault("persistence.redisAddr", "localhost:6379")
	v.SetDefault("persistence.redisKey", "setlist:active_songs")
	v.SetDefault("directory.driver", DriverStatic)
	v.SetDefault("directory.path", "directory.db")
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."} // look for config in the working directory
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("SETLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.String("authMode", cfg.Auth.Mode),
		slog.String("persistence", cfg.Persistence.Driver),
		slog.String("directory", cfg.Directory.Driver),
	)
	return &cfg, nil
}
