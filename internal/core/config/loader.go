package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/invoker/internal/core/request"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Groups == nil {
		cfg.Groups = make(map[string]Options)
	}
	if _, ok := cfg.Groups[DefaultGroup]; !ok && cfg.Defaults != nil {
		cfg.Groups[DefaultGroup] = cfg.Defaults
	}

	seen := make(map[string]bool, len(cfg.Services))
	for i := range cfg.Services {
		s := &cfg.Services[i]
		if s.Name == "" {
			return nil, fmt.Errorf("service #%d: name is required", i+1)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("service %s: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.URL == "" {
			return nil, fmt.Errorf("service %s: url is required", s.Name)
		}
		if s.Verb == "" {
			s.Verb = "GET"
		}
		s.Verb = strings.ToUpper(s.Verb)
		if s.Group == "" {
			s.Group = DefaultGroup
		}
	}

	if cfg.Logging.Level != "" {
		if _, err := request.ParseLevel(cfg.Logging.Level); err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
	}

	return &cfg, nil
}
