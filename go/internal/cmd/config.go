package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

type Config struct {
	Games struct {
		Difficulties []models.Difficulty `yaml:"difficulties"`
	} `yaml:"games"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path. A missing file yields the built-in presets.
func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", path).Msg("config file not found, using built-in difficulties")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if len(config.Games.Difficulties) == 0 {
		config.Games.Difficulties = append([]models.Difficulty(nil), models.DefaultDifficulties...)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for _, d := range c.Games.Difficulties {
		name := strings.ToLower(d.Name)
		if name == "" {
			return fmt.Errorf("%w: difficulty without a name", models.ErrInvalidConfiguration)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate difficulty %q", models.ErrInvalidConfiguration, d.Name)
		}
		seen[name] = true
		if err := d.Validate(); err != nil {
			return fmt.Errorf("difficulty %q (%dx%d, %d mines): %w", d.Name, d.Rows, d.Cols, d.Mines, err)
		}
	}
	return nil
}

func logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
