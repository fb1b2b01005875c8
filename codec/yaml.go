package codec

import "gopkg.in/yaml.v3"

// YAML writes human-editable metadata. Struct fields are matched by their
// yaml tags, or by lowercased field name when untagged.
type YAML struct{}

func (YAML) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAML) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAML) Name() string                       { return "yaml" }
