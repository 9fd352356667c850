package config

import "github.com/joho/godotenv"

// loadDotenv loads a .env file when present. Missing files are not an error;
// production deployments configure through real environment variables.
func loadDotenv() {
	_ = godotenv.Load()
}
