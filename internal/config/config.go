// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Validator is implemented by configs that can check themselves once loaded.
type Validator interface {
	Validate() error
}

// Load fills config, which must be a pointer to a struct, from file and then from the environment. Values
// already set in config act as defaults. Nested keys map to upper-cased, underscore separated variables, so
// Room.MaxParticipants is overridden by ROOM_MAXPARTICIPANTS. An empty file name skips the file.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	// Registering every key up front is what lets AutomaticEnv see keys missing from the file.
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	if c, ok := config.(Validator); ok {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	return nil
}
