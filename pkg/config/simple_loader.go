package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the commands look for the settings file.
const DefaultPath = "config/settings.yaml"

// Load reads the settings file at filePath over the defaults and validates it.
// A missing file is a configuration error.
func Load(filePath string) (*Settings, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the --config flag
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dwerrors.New(dwerrors.ErrorTypeConfig, "settings file not found").
				WithDetail("path", filePath)
		}
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to read settings file").
			WithDetail("path", filePath)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "invalid settings file").
			WithDetail("path", filePath)
	}
	return s, nil
}

// Parse decodes settings from YAML after ${VAR} substitution.
func Parse(data []byte) (*Settings, error) {
	s := NewSettings()
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.Incremental == nil {
		s.Incremental = map[string]bool{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings as YAML.
func Save(filePath string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// ${VAR_NAME:-fallback} uses fallback when the variable is unset or empty.
func substituteEnvVars(content string) string {
	var b strings.Builder
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

		name, fallback, _ := strings.Cut(content[start+2:end], ":-")
		value := os.Getenv(name)
		if value == "" {
			value = fallback
		}
		b.WriteString(content[:start])
		b.WriteString(value)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
