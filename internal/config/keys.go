package config

import "os"

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SecretSourceEnv    SecretSource = "env"
	SecretSourceConfig SecretSource = "config"
	SecretSourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a configured secret.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "pos...b12"
}

// CheckSecrets returns the status of the connection secrets.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Redis Password", cfg.Redis.Password, "PAPERTRADER_REDIS_PASSWORD"),
		checkSecret("Postgres DSN", cfg.Postgres.DSN, "PAPERTRADER_POSTGRES_DSN"),
	}
}

// checkSecret checks if a secret is set and where it came from.
func checkSecret(name, value, envVar string) SecretStatus {
	status := SecretStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value == "" {
		status.Source = SecretSourceNone
		return status
	}

	if os.Getenv(envVar) != "" {
		status.Source = SecretSourceEnv
	} else {
		status.Source = SecretSourceConfig
	}
	status.Masked = maskSecret(value)
	return status
}

// maskSecret masks a secret for display, showing only first 3 and last 3 chars.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "..." + s[len(s)-3:]
}
