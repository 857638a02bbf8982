package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort     string        `mapstructure:"SERVER_PORT" validate:"required"`
	BackendURL     string        `mapstructure:"BACKEND_URL" validate:"required,url"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT" validate:"gt=0"`
	PostgresURL    string        `mapstructure:"POSTGRES_URL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	DeviceID       string        `mapstructure:"DEVICE_ID" validate:"required,excludesall=:*"`

	// GPSDevice selects the serial NMEA receiver; empty means fixes are pushed over HTTP.
	GPSDevice          string  `mapstructure:"GPS_DEVICE"`
	GPSBaud            int     `mapstructure:"GPS_BAUD" validate:"min=1200"`
	GPSDistanceFilterM float64 `mapstructure:"GPS_DISTANCE_FILTER_M" validate:"gte=0"`
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", ":8080")
	v.SetDefault("BACKEND_URL", "https://deduce-drive-tracker-be.onrender.com")
	v.SetDefault("BACKEND_TIMEOUT", "15s")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("DEVICE_ID", "device")
	v.SetDefault("GPS_DEVICE", "")
	v.SetDefault("GPS_BAUD", 9600)
	v.SetDefault("GPS_DISTANCE_FILTER_M", 1.0)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
