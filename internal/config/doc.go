// Package config loads the service configuration from YAML with environment
// overrides and validates each section before the service starts.
package config
