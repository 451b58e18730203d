package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MemoryDSN selects the in-memory store instead of Postgres.
const MemoryDSN = "memory"

type Config struct {
	DatabaseDSN      string
	ServerAddr       string
	SigningKey       []byte
	AllowedOrigins   []string
	LogFormat        string
	AttemptRetention time.Duration
}

// Env holds the environment defaults for the command line flags.
type Env struct {
	ServerAddr       string        `env:"ROSTER_ADDR" envDefault:":8000"`
	DatabaseDSN      string        `env:"ROSTER_DATABASE_DSN" envDefault:"memory"`
	SigningKey       string        `env:"ROSTER_SIGNING_KEY"`
	AllowedOrigins   []string      `env:"ROSTER_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	LogFormat        string        `env:"ROSTER_LOG_FORMAT" envDefault:"json"`
	AttemptRetention time.Duration `env:"ROSTER_ATTEMPT_RETENTION" envDefault:"24h"`
}

// LoadEnv reads the given dotenv files, if they exist, into the process
// environment and parses Env from it. Variables already set take precedence.
func LoadEnv(dotenvFiles ...string) (Env, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:      databaseDSN,
		ServerAddr:       serverAddr,
		SigningKey:       signingKey,
		AllowedOrigins:   allowedOrigins,
		LogFormat:        "json",
		AttemptRetention: 24 * time.Hour,
	}, nil
}

// UseMemoryStore reports whether the DSN selects the in-memory store.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseDSN == MemoryDSN
}
