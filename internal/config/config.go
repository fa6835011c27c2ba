package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sketchsync/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Ayon struct {
		URL    string `koanf:"url" validate:"required,url"`
		APIKey string `koanf:"api_key" validate:"required"`
	} `koanf:"ayon"`

	SyncSketch struct {
		URL       string `koanf:"url" validate:"required,url"`
		AuthUser  string `koanf:"auth_user" validate:"required"`
		AuthToken string `koanf:"auth_token" validate:"required"`
		AccountID string `koanf:"account_id"`
	} `koanf:"syncsketch"`

	Ftrack struct {
		URL      string `koanf:"url" validate:"required,url"`
		APIKey   string `koanf:"api_key" validate:"required"`
		Username string `koanf:"username" validate:"required"`
	} `koanf:"ftrack"`

	StatusesMapping []models.StatusMappingEntry `koanf:"statuses_mapping" validate:"unique=Name,dive"`

	Processor struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		NotesToTask  bool          `koanf:"notes_to_task"`
		LogLevel     string        `koanf:"log_level"`
	} `koanf:"processor"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"syncsketch.url":          "https://syncsketch.com",
		"processor.poll_interval": "1.5s",
		"processor.log_level":     "info",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./ssdata/sketchsync.toml", "./sketchsync.toml", "$HOME/.sketchsync.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix SKETCHSYNC_
	k.Load(env.Provider("SKETCHSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SKETCHSYNC_")), "__", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# SketchSync Configuration

[ayon]
url = "https://ayon.example.com"
api_key = "your-ayon-service-api-key"

[syncsketch]
url = "https://syncsketch.com"
auth_user = "your-syncsketch-username"
auth_token = "your-syncsketch-api-key"
account_id = "your-syncsketch-account-id"

[ftrack]
url = "https://studio.ftrackapp.com"
api_key = "your-ftrack-api-key"
username = "your-ftrack-api-user"

[processor]
poll_interval = "1.5s"
notes_to_task = false
log_level = "info"

[[statuses_mapping]]
name = "Approved"
ftrack_status = "Approved"

[[statuses_mapping]]
name = "Revision Needed"
ftrack_status = "Change requested"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			fields := make([]string, 0, len(errs))
			for _, fe := range errs {
				fields = append(fields, fe.Namespace())
			}
			return fmt.Errorf("invalid configuration fields: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if config.Processor.PollInterval <= 0 {
		return fmt.Errorf("processor poll_interval must be positive")
	}

	return nil
}
