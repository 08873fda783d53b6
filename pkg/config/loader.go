package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
)

// Load reads a job configuration from a YAML file on top of Default.
// ${VAR} references are replaced with environment values before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto decodes a YAML file into v.
func LoadInto(path string, v interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read config file").WithDetail("path", path)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", path)
	}
	return nil
}

// Save writes v to a YAML file.
func Save(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").WithDetail("path", path)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables become empty strings.
func substituteEnvVars(content string) string {
	var sb strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		sb.WriteString(content[:start])
		sb.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	sb.WriteString(content)
	return sb.String()
}
