// Package config loads AutoChain settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Atif-27/AutoChain/internal/mailer"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerKafka  = "kafka"
	BrokerNATS   = "nats"
)

// Config is the process configuration shared by every command.
type Config struct {
	DBDriver string
	DBDSN    string

	Broker       string
	KafkaBrokers []string
	NATSURL      string
	Topic        string
	Group        string

	HTTPAddr string

	RelayBatch    int
	RelayInterval time.Duration

	StageTimeout  time.Duration
	StageAttempts int
	HaltOnFailure bool

	RedisAddr    string
	OTLPEndpoint string

	SMTP mailer.Config
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBDriver:      "sqlite3",
		DBDSN:         "autochain.db",
		Broker:        BrokerMemory,
		KafkaBrokers:  []string{"localhost:9092"},
		NATSURL:       "nats://localhost:4222",
		Topic:         workflow.DefaultTopic,
		Group:         "main-worker",
		HTTPAddr:      ":3002",
		RelayBatch:    10,
		RelayInterval: time.Second,
		StageTimeout:  30 * time.Second,
		StageAttempts: 3,
		SMTP:          mailer.Config{Port: "587", Subject: mailer.DefaultSubject},
	}
}

// Load reads envFile (when non-empty, it must exist) or ./.env (when
// present) into the process environment, then builds a Config from it.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, starting from Default.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("AUTOCHAIN_DB_DRIVER", &cfg.DBDriver)
	p.str("AUTOCHAIN_DB_DSN", &cfg.DBDSN)
	p.str("AUTOCHAIN_BROKER", &cfg.Broker)
	p.list("AUTOCHAIN_KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("AUTOCHAIN_NATS_URL", &cfg.NATSURL)
	p.str("AUTOCHAIN_TOPIC", &cfg.Topic)
	p.str("AUTOCHAIN_GROUP", &cfg.Group)
	p.str("AUTOCHAIN_HTTP_ADDR", &cfg.HTTPAddr)
	p.integer("AUTOCHAIN_RELAY_BATCH", &cfg.RelayBatch)
	p.duration("AUTOCHAIN_RELAY_INTERVAL", &cfg.RelayInterval)
	p.duration("AUTOCHAIN_STAGE_TIMEOUT", &cfg.StageTimeout)
	p.integer("AUTOCHAIN_STAGE_ATTEMPTS", &cfg.StageAttempts)
	p.boolean("AUTOCHAIN_HALT_ON_FAILURE", &cfg.HaltOnFailure)
	p.str("AUTOCHAIN_REDIS_ADDR", &cfg.RedisAddr)
	p.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	p.str("SMTP_HOST", &cfg.SMTP.Host)
	p.str("SMTP_PORT", &cfg.SMTP.Port)
	p.str("SMTP_USER", &cfg.SMTP.User)
	p.str("SMTP_PASS", &cfg.SMTP.Pass)
	p.str("EMAIL_FROM", &cfg.SMTP.From)
	p.str("EMAIL_SUBJECT", &cfg.SMTP.Subject)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("AUTOCHAIN_DB_DRIVER: unsupported driver %q (want sqlite3 or postgres)", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("AUTOCHAIN_DB_DSN: must not be empty"))
	}
	switch c.Broker {
	case BrokerMemory:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("AUTOCHAIN_KAFKA_BROKERS: required for the kafka broker"))
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("AUTOCHAIN_NATS_URL: required for the nats broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTOCHAIN_BROKER: unknown broker %q (want memory, kafka or nats)", c.Broker))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("AUTOCHAIN_TOPIC: must not be empty"))
	}
	if c.RelayBatch <= 0 {
		errs = append(errs, fmt.Errorf("AUTOCHAIN_RELAY_BATCH: must be positive, got %d", c.RelayBatch))
	}
	if c.RelayInterval <= 0 {
		errs = append(errs, fmt.Errorf("AUTOCHAIN_RELAY_INTERVAL: must be positive, got %s", c.RelayInterval))
	}
	if c.StageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AUTOCHAIN_STAGE_TIMEOUT: must be positive, got %s", c.StageTimeout))
	}
	if c.StageAttempts < 1 {
		errs = append(errs, fmt.Errorf("AUTOCHAIN_STAGE_ATTEMPTS: must be at least 1, got %d", c.StageAttempts))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) list(key string, dst *[]string) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}
