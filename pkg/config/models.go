package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server      ServerConfig
	Auth        AuthConfig
	Transport   TransportConfig
	Persistence PersistenceConfig
	Directory   DirectoryConfig
	Log         LogConfig
}

type ServerConfig struct {
	Address         string
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	// hard upper bound on the whole shutdown sequence
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	// bound on the active-song flush performed during shutdown
	FlushTimeout time.Duration `mapstructure:"flushTimeout"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

const (
	AuthModeStrict  = "strict"
	AuthModeLenient = "lenient"
)

type AuthConfig struct {
	// Mode "strict" trusts only the session token subject; "lenient" trusts
	// the id the client declares. Lenient is meant for local development.
	Mode       string `mapstructure:"mode"`
	JWTSecret  string `mapstructure:"jwtSecret"`
	CookieName string `mapstructure:"cookieName"`
}

func (a AuthConfig) Lenient() bool {
	return a.Mode == AuthModeLenient
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverStatic = "static"
)

type PersistenceConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redisAddr"`
	RedisKey  string `mapstructure:"redisKey"`
}

type DirectoryConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
	Users  []UserSeed  `mapstructure:"users"`
	Groups []GroupSeed `mapstructure:"groups"`
	Songs  []string    `mapstructure:"songs"`
}

type UserSeed struct {
	ID      string `mapstructure:"id"`
	Role    string `mapstructure:"role"`
	GroupID string `mapstructure:"groupId"`
}

type GroupSeed struct {
	ID      string `mapstructure:"id"`
	AdminID string `mapstructure:"adminId"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate rejects enum values the rest of the service cannot act on.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeStrict, AuthModeLenient:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeStrict, AuthModeLenient, c.Auth.Mode)
	}
	if c.Auth.Mode == AuthModeStrict && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required in %s mode", AuthModeStrict)
	}
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("server.connectionLimit.mode must be reject or cycle, got %q", c.Server.ConnectionLimit.Mode)
	}
	switch c.Persistence.Driver {
	case DriverJSON, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("unknown persistence.driver %q", c.Persistence.Driver)
	}
	switch c.Directory.Driver {
	case DriverSQLite, DriverStatic:
	default:
		return fmt.Errorf("unknown directory.driver %q", c.Directory.Driver)
	}
	if c.Server.ShutdownTimeout <= 0 || c.Server.FlushTimeout <= 0 {
		return fmt.Errorf("server.shutdownTimeout and server.flushTimeout must be positive")
	}
	return nil
}
