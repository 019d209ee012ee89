package redisstore

import "time"

// Config configures the Redis connection and key layout.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // redis://:password@host:6379/0
	KeyPrefix      string        `env:"FLAGCORE_REDIS_PREFIX" envDefault:"flagcore:"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	OpTimeout      time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"2s"`

	// Polling reports data store polling support to the engine.
	Polling bool `env:"FLAGCORE_REDIS_POLLING" envDefault:"false"`
}
