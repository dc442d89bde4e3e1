package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the configuration for the approval engine.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`
	Notify struct {
		QueueSize          int `mapstructure:"queue_size"`
		DigestIntervalMins int `mapstructure:"digest_interval_mins"`
	} `mapstructure:"notify"`
}

// LoadConfig loads the configuration from config.yaml and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("notify.queue_size", 256)
	viper.SetDefault("notify.digest_interval_mins", 60)

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; env vars and defaults take over.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ConnString builds the postgres connection string.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}
