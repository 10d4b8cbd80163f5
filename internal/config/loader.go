package config

import "fmt"

// LoadFromEnv is the entry point used by both binaries.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return Load(FromEnviron())
}
