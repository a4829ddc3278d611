// Package config loads the gateway configuration from YAML with ${VAR}
// expansion, applies the recognized environment overrides, and validates
// mode selections before boot.
package config
