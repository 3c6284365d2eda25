package config

import (
	"encoding/json"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	APIAddr       string `env:"API_ADDR" envDefault:":8040"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// XQueues maps queue name to grader endpoint. An empty endpoint marks a
	// pull-only queue: it gets no delivery workers and is served solely
	// through the external grader interface.
	XQueuesJSON string `env:"XQUEUES" envDefault:"{}"`
	XQueues     map[string]string

	WorkersPerQueue int `env:"WORKERS_PER_QUEUE" envDefault:"2"`

	// SubmissionProcessingDelay is the visibility timeout: how stale a lease
	// timestamp must be before a submission is eligible again.
	SubmissionProcessingDelay time.Duration `env:"SUBMISSION_PROCESSING_DELAY" envDefault:"1m"`
	ConsumerDelay             time.Duration `env:"CONSUMER_DELAY" envDefault:"1s"`
	GradingTimeout            time.Duration `env:"GRADING_TIMEOUT" envDefault:"30s"`
	RequestsTimeout           time.Duration `env:"REQUESTS_TIMEOUT" envDefault:"5s"`

	BasicAuthUser string `env:"REQUESTS_BASIC_AUTH_USER"`
	BasicAuthPass string `env:"REQUESTS_BASIC_AUTH_PASS"`

	// HTTPSVerify defaults to off: grader endpoints are trusted private
	// infrastructure, often behind self-signed certs.
	HTTPSVerify bool `env:"HTTPS_VERIFY" envDefault:"false"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	if err := json.Unmarshal([]byte(c.XQueuesJSON), &c.XQueues); err != nil {
		log.Fatalf("XQUEUES: %v", err)
	}
	return c
}
