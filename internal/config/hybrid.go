package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HybridFile overrides the hybrid retriever settings taken from the environment.
type HybridFile struct {
	Sources       []HybridSourceFile `yaml:"sources"`
	FailurePolicy string             `yaml:"failure_policy"`
	SourceTimeout time.Duration      `yaml:"source_timeout"`
	PoolSize      int                `yaml:"pool_size"`
}

type HybridSourceFile struct {
	Type   string  `yaml:"type"`
	Weight float64 `yaml:"weight"`
}

func LoadHybridFile(path string) (*HybridFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hybrid config: %w", err)
	}

	var file HybridFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse hybrid config %s: %w", path, err)
	}
	if len(file.Sources) == 0 {
		return nil, errors.New("hybrid config: at least one source is required")
	}
	for idx, source := range file.Sources {
		if source.Type == "" {
			return nil, fmt.Errorf("hybrid config: source %d has no type", idx)
		}
	}
	return &file, nil
}

// Weights returns the configured weight per source type name.
func (f *HybridFile) Weights() map[string]float64 {
	out := make(map[string]float64, len(f.Sources))
	for _, source := range f.Sources {
		out[source.Type] = source.Weight
	}
	return out
}
