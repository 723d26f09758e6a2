// Package config loads tablecache settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the connection and runtime settings of a tablecache process.
type Config struct {
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDB       string `mapstructure:"MONGO_DB"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPoolSize int    `mapstructure:"REDIS_POOL_SIZE"`

	Debug          bool   `mapstructure:"TABLECACHE_DEBUG"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogDevelopment bool   `mapstructure:"LOG_DEVELOPMENT"`
	MetricsAddr    string `mapstructure:"METRICS_ADDR"`
}

var defaults = map[string]any{
	"MONGO_URI":        "mongodb://localhost:27017",
	"MONGO_DB":         "tablecache",
	"REDIS_ADDR":       "localhost:6379",
	"REDIS_PASSWORD":   "",
	"REDIS_DB":         0,
	"REDIS_POOL_SIZE":  10,
	"TABLECACHE_DEBUG": false,
	"LOG_LEVEL":        "info",
	"LOG_DEVELOPMENT":  false,
	"METRICS_ADDR":     "",
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  MongoURI: %s\n", maskURI(c.MongoURI)))
	sb.WriteString(fmt.Sprintf("  MongoDB: %s\n", c.MongoDB))
	sb.WriteString(fmt.Sprintf("  RedisAddr: %s\n", c.RedisAddr))
	if c.RedisPassword != "" {
		sb.WriteString("  RedisPassword: ********\n")
	} else {
		sb.WriteString("  RedisPassword: (empty)\n")
	}
	sb.WriteString(fmt.Sprintf("  RedisDB: %d\n", c.RedisDB))
	sb.WriteString(fmt.Sprintf("  RedisPoolSize: %d\n", c.RedisPoolSize))
	sb.WriteString(fmt.Sprintf("  Debug: %v\n", c.Debug))
	sb.WriteString(fmt.Sprintf("  LogLevel: %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("  LogDevelopment: %v\n", c.LogDevelopment))
	sb.WriteString(fmt.Sprintf("  MetricsAddr: %s\n", c.MetricsAddr))
	return sb.String()
}

// LoadFromEnv loads the configuration from the environment. Variables in
// envFile are loaded first when the file exists; an empty envFile means ".env".
func LoadFromEnv(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// maskURI hides the password of a connection URI.
func maskURI(uri string) string {
	scheme := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if scheme < 0 || at < scheme {
		return uri
	}
	creds := uri[scheme+3 : at]
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return uri
	}
	return uri[:scheme+3] + user + ":********" + uri[at:]
}
