package main

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	storeBadger   = "badger"
	storePostgres = "postgres"
)

type Config struct {
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080" validate:"min=1,max=65535"`
	StoreDriver          string        `env:"STORE_DRIVER,default=badger" validate:"oneof=badger postgres"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH" validate:"required_if=StoreDriver badger"`
	PostgresDSN          string        `env:"POSTGRES_DSN" validate:"required_if=StoreDriver postgres"`
	RedisAddr            string        `env:"REDIS_ADDR"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	RedisChannel         string        `env:"REDIS_CHANNEL,default=chat-relay:deliveries"`
	BufferSize           int           `env:"BUFFER_SIZE,required=true" validate:"min=1"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true" validate:"min=1"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true" validate:"gt=0"`
	PersistenceTimeout   time.Duration `env:"PERSISTENCE_TIMEOUT,default=5s" validate:"gt=0"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,required=true"`
	MaxImageBytes        int           `env:"MAX_IMAGE_BYTES,default=5242880"`
	InboundRate          float64       `env:"INBOUND_RATE,default=0"`
	InboundBurst         int           `env:"INBOUND_BURST,default=20"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=10"`
}

// loadConfig reads the environment, after loading the dotenv file named by
// --env-file if any. Variables already set win over the file.
func loadConfig(args []string) (Config, error) {
	var envFile string
	flagSet := pflag.NewFlagSet("chat-relay", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment")
	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
