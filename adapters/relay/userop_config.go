package relay

import (
	"errors"
	"fmt"
	"os"

	"github.com/layer-3/clearsync/pkg/userop"
	"gopkg.in/yaml.v3"
)

// LoadUserOpConfig reads a user operation client configuration file
func LoadUserOpConfig(path string) (userop.ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return userop.ClientConfig{}, fmt.Errorf("failed to read userop config: %w", err)
	}
	return ParseUserOpConfig(data)
}

// ParseUserOpConfig decodes a YAML configuration on top of the library defaults.
func ParseUserOpConfig(data []byte) (userop.ClientConfig, error) {
	var conf userop.ClientConfig
	conf.Init()
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return userop.ClientConfig{}, fmt.Errorf("failed to parse userop config: %w", err)
	}

	switch {
	case conf.ProviderURL == "":
		return userop.ClientConfig{}, errors.New("userop config: provider_url is required")
	case conf.BundlerURL == "":
		return userop.ClientConfig{}, errors.New("userop config: bundler_url is required")
	}
	return conf, nil
}
