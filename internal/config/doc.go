// Package config defines the gateway configuration model and its loading,
// defaulting, validation, and file watching.
//
// A configuration file is YAML or TOML, selected by extension, and may refer
// to environment variables with ${VAR} or ${VAR:-default}. A loaded
// configuration is immutable: a reload produces a new GatewayConfig that
// replaces the old one wholesale.
package config
