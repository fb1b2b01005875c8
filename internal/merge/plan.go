package merge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is returned for a plan that cannot be executed.
var ErrInvalidPlan = errors.New("invalid merge plan")

// Plan describes one merge.
type Plan struct {
	// Segments are the input segments in merge order.
	Segments []model.SegmentID `yaml:"segments"`
	// Target is the id of the output segment.
	Target model.SegmentID `yaml:"target"`
	// Version is the generation of the output segment. Zero selects one
	// above every input.
	Version model.Version `yaml:"version,omitempty"`
	// PatchCompression overrides the patch compression recorded in the
	// output's format options.
	PatchCompression string `yaml:"patch_compression,omitempty"`
	// Unsorted ignores the schema sort key and keeps input order.
	Unsorted bool `yaml:"unsorted,omitempty"`
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return p, p.Validate()
}

// LoadPlan reads a YAML plan from r.
func LoadPlan(r io.Reader) (Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(data)
}

// LoadPlanFile reads a YAML plan file.
func LoadPlanFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(data)
}

// Validate checks the plan without touching storage.
func (p Plan) Validate() error {
	if len(p.Segments) == 0 {
		return fmt.Errorf("%w: no input segments", ErrInvalidPlan)
	}
	sorted := slices.Clone(p.Segments)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return fmt.Errorf("%w: segment %d listed twice", ErrInvalidPlan, sorted[i])
		}
	}
	if slices.Contains(p.Segments, p.Target) {
		return fmt.Errorf("%w: target %d is also an input", ErrInvalidPlan, p.Target)
	}
	if p.PatchCompression != "" {
		if _, err := compress.ParseType(p.PatchCompression); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
	}
	return nil
}

// Marshal encodes the plan as YAML.
func (p Plan) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}
