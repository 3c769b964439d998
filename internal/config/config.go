package config

import (
	"github.com/caarlos0/env/v11"
)

// Config holds process-level settings, populated from the environment
type Config struct {
	Addr           string `env:"QUIZARENA_ADDR" envDefault:":8080"`
	DatabasePath   string `env:"QUIZARENA_DB" envDefault:"quizarena.db"`
	QuestionSvcURL string `env:"QUIZARENA_QUESTION_URL" envDefault:"http://localhost:9090"`
	JWTSecret      string `env:"QUIZARENA_JWT_SECRET,required"`
	LogLevel       string `env:"QUIZARENA_LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
