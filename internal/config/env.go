package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from the current directory if present.
// Best-effort: a missing file is not an error.
func LoadDotEnv() error {
	err := godotenv.Load()
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// APIKey resolves the LLM gateway bearer token from the environment
// variable named by LLM.APIKeyEnv.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
