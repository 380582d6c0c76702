package mediasession

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type Config struct {
	PageName       string     `yaml:"pageName"`
	Width          int        `yaml:"width"`
	Height         int        `yaml:"height"`
	StartMuted     bool       `yaml:"startMuted"`
	DefaultFacing  FacingMode `yaml:"defaultFacing"`
	JPEGQuality    int        `yaml:"jpegQuality"`
	SpeechLanguage string     `yaml:"speechLanguage"`
	InterimResults bool       `yaml:"interimResults"`
}

func DefaultConfig() Config {
	return Config{
		PageName:       "Camera",
		Width:          640,
		Height:         480,
		StartMuted:     true,
		DefaultFacing:  FacingUser,
		JPEGQuality:    100,
		SpeechLanguage: "en-US",
	}
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.DefaultFacing != FacingUser && c.DefaultFacing != FacingEnvironment {
		return fmt.Errorf("invalid facing mode %q", c.DefaultFacing)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d out of range [1, 100]", c.JPEGQuality)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
