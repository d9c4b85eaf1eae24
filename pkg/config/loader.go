package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// StreamFile is a stream definition on disk, as used by the CLI.
type StreamFile struct {
	TeamID                  string `yaml:"team_id"`
	models.StreamDefinition `yaml:",inline"`
}

// LoadStream reads a YAML stream definition. ${VAR} references are
// replaced with environment values before parsing, so credentials can stay
// out of the file. Absent fields keep the service defaults.
func LoadStream(path string) (*StreamFile, error) {
	return LoadStreamWithDefaults(path, models.DefaultDelivery())
}

// LoadStreamWithDefaults is LoadStream with delivery defaults taken from
// the service configuration.
func LoadStreamWithDefaults(path string, delivery models.Delivery) (*StreamFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read stream file")
	}
	return parseStream(data, delivery)
}

// ParseStream decodes a YAML stream definition after ${VAR} expansion.
func ParseStream(data []byte) (*StreamFile, error) {
	return parseStream(data, models.DefaultDelivery())
}

func parseStream(data []byte, delivery models.Delivery) (*StreamFile, error) {
	sf := &StreamFile{StreamDefinition: models.NewStreamDefinition()}
	sf.Delivery = delivery
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), sf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse stream YAML")
	}
	sf.Destination.ApplyDefaults()
	return sf, nil
}

// SaveStream writes sf as YAML. Secrets are written as they are held in
// memory, so callers should save files that still carry ${VAR} references
// only through the original text.
func SaveStream(path string, sf *StreamFile) error {
	data, err := yaml.Marshal(sf)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal stream YAML")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write stream file")
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
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

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
