package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuracion del cliente y del devserver.
type Config struct {
	APIBaseURL    string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PatientID     int64         `env:"PATIENT_ID"`
	OperatorID    int64         `env:"OPERATOR_ID"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`

	DevServerPort string        `env:"DEVSERVER_PORT" envDefault:"8080"`
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	AccessTTL     time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
}

// LoadConfig carga la configuracion desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
