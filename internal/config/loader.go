package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// FormatFromPath picks the format from the file extension; anything that is
// not .toml is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads, parses and defaults the configuration at path. The result is not validated.
func Load(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data, FormatFromPath(path))
}

// LoadFromReader reads, parses and defaults a configuration from r.
func LoadFromReader(r io.Reader, format Format) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, format)
}

// LoadAndValidate loads the configuration at path and validates it. Any
// problem is reported as an error wrapping ErrConfigurationInvalid.
func LoadAndValidate(path string) (*GatewayConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationInvalid, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format. Unknown keys are rejected.
func Parse(data []byte, format Format) (*GatewayConfig, error) {
	content := substituteEnvVars(string(data))

	var cfg GatewayConfig
	switch format {
	case FormatTOML:
		md, err := toml.Decode(content, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default}. "$$" escapes a literal dollar.
func substituteEnvVars(content string) string {
	const escaped = "\x00ESCAPED_DOLLAR\x00"
	content = strings.ReplaceAll(content, "$$", escaped)

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})

	return strings.ReplaceAll(result, escaped, "$")
}
