// Package config loads build settings from a YAML file overlaid with
// ICONPACK_* environment variables.
package config
