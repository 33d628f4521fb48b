// Package engine hosts execution engines that emit lifecycle events to an agent listener:
// a local pipeline runner and a NATS JetStream event feed.
package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Pipeline is an ordered list of shell steps run as one application.
type Pipeline struct {
	Name  string `yaml:"name"`
	RunID string `yaml:"run_id"`
	Steps []Step `yaml:"steps"`
}

// Step is one unit of work. Description becomes the tracked job name.
type Step struct {
	Description string        `yaml:"description"`
	Run         string        `yaml:"run"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ParsePipeline decodes YAML into a Pipeline, assigning a run id when none is given.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("pipeline name is required")
	}
	if len(p.Steps) == 0 {
		return nil, errors.New("pipeline has no steps")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Run) == "" {
			return nil, fmt.Errorf("step %d: run is required", i+1)
		}
	}
	if strings.TrimSpace(p.RunID) == "" {
		p.RunID = uuid.NewString()
	}
	return &p, nil
}

// LoadPipeline reads and parses the pipeline file at path.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipeline(data)
}
