package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Secrets come from the process environment, never from the config file.
type Secrets struct {
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `validate:"required"`

	// Discussion API client-credentials.
	RedditClientID     string `validate:"required"`
	RedditClientSecret string `validate:"required"`
	RedditUserAgent    string `validate:"required"`

	// Rate-limit backend; optional, the limiter fails open without it.
	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string
}

// LoadSecrets reads the environment (after a tolerant .env load) and
// validates the result. All problems are reported in one pass so startup
// failures name every missing or malformed value at once.
func LoadSecrets() (Secrets, error) {
	_ = godotenv.Load()

	s := Secrets{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedditClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		RedditClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		RedditUserAgent:    os.Getenv("REDDIT_USER_AGENT"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
	}

	if err := validateSecrets(s); err != nil {
		return Secrets{}, err
	}

	return s, nil
}

var envNames = map[string]string{
	"DatabaseURL":        "DATABASE_URL",
	"RedditClientID":     "REDDIT_CLIENT_ID",
	"RedditClientSecret": "REDDIT_CLIENT_SECRET",
	"RedditUserAgent":    "REDDIT_USER_AGENT",
	"RedisAddr":          "REDIS_ADDR",
	"RedisPassword":      "REDIS_PASSWORD",
}

func validateSecrets(s Secrets) error {
	validate := validator.New()

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("failed to validate secrets: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := envNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", name))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is malformed (%s)", name, fe.Tag()))
		}
	}

	return fmt.Errorf("invalid environment: %s", strings.Join(msgs, "; "))
}
