package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Storage struct {
		FilePath string `mapstructure:"file_path"`
	} `mapstructure:"storage"`
	Push struct {
		VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
		VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
		Subscriber      string `mapstructure:"subscriber"`
		FrontendURL     string `mapstructure:"frontend_url"`
		TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"push"`
}

// LoadConfig reads the YAML config file, with HYDRATED_* environment
// variables taking precedence (HYDRATED_PUSH_VAPID_PRIVATE_KEY and friends).
// A missing file is fine; defaults plus environment cover everything except
// the VAPID keys.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.port", ":8090")
	v.SetDefault("storage.file_path", "data/store.json")
	v.SetDefault("push.subscriber", "mailto:admin@example.com")
	v.SetDefault("push.frontend_url", "/")
	v.SetDefault("push.timeout_seconds", 5)

	v.SetEnvPrefix("HYDRATED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets usually arrive via environment only; bind them explicitly so
	// Unmarshal sees them even when the config file omits the keys.
	v.BindEnv("push.vapid_public_key")
	v.BindEnv("push.vapid_private_key")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
