package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Iris/internal/catalog"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/library"
	"github.com/hbomb79/Iris/internal/scheduler"
	"github.com/hbomb79/Iris/internal/vision"
	"github.com/ilyakaznacheev/cleanenv"
)

// IrisConfig is the struct used to contain the
// various user config supplied by file, or
// manually inside the code.
type IrisConfig struct {
	Library   library.Config          `yaml:"library" env-required:"true"`
	Vision    vision.Config           `yaml:"vision" env-required:"true"`
	Geocode   geocode.Config          `yaml:"geocode" env-required:"true"`
	Catalog   catalog.Config          `yaml:"catalog" env-required:"true"`
	Scheduler scheduler.Config        `yaml:"scheduler"`
	Database  database.DatabaseConfig `yaml:"database"`
	Retry     RetryConfig             `yaml:"retry"`
}

// RetryConfig tunes the shared retry policy applied to every remote
// call made by the adapters and the sync protocol.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"4"`
	InitialDelayMs int `yaml:"initial_delay_ms" env:"RETRY_INITIAL_DELAY_MS" env-default:"500"`
	MaxDelayMs     int `yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS" env-default:"8000"`
}

// LoadFromFile loads a configuration file formatted in YAML in to an
// IrisConfig struct. Environment variables override file values, and
// a missing file falls back to environment-only configuration.
func (config *IrisConfig) LoadFromFile(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(config); err != nil {
			return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
		}
	} else if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration for IrisConfig - %v", err.Error())
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid - %v", err.Error())
	}

	return nil
}

// DefaultDatabasePath places the checkpoint database under the user
// cache directory when no explicit path is configured.
func (config *IrisConfig) DefaultDatabasePath() string {
	if config.Database.Path != "" {
		return config.Database.Path
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user cache dir %s", err))
	}

	return filepath.Join(dir, IRIS_USER_DIR_SUFFIX, "iris.db")
}
