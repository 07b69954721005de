// Package config provides configuration loading and validation for the modem service.
// It reads YAML or TOML files into a single Config tree and validates every section
// before the service starts.
package config
