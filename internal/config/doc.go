// Package config provides configuration loading and validation for the
// consultation capture service. It handles YAML-based configuration with
// struct validation, and overlays API keys from the environment so secrets
// never live in the config file.
package config
