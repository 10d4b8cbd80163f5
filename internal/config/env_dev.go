//go:build dev

package config

import (
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv reads ENV_FILE (default .env) without overriding variables
// already set in the environment. A missing file is not an error.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
