package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads a YAML config file at path into a fresh Viper instance
// and unmarshals it into out. It uses a private viper.Viper rather
// than viper's global instance so cmd/storaged and cmd/fdfsctl can
// each load their own config type in the same process (tests do
// exactly this).
func Load(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return nil
}
